package router

import (
	"github.com/mesmerverse/maci-keyvault/internal/broker"
	"github.com/mesmerverse/maci-keyvault/internal/keymanager"
	"github.com/mesmerverse/maci-keyvault/internal/vaulterr"
)

// Action is one of the externally callable operations
type Action interface {
	Name() string
	// Privileged actions run only after a human approves them.
	Privileged() bool
}

// GenerateKeypair creates a new signing key
type GenerateKeypair struct{}

// SignMessage signs Message with PublicKey
type SignMessage struct {
	PublicKey string              `json:"publicKey"`
	Message   string              `json:"message"`
	Metadata  keymanager.Metadata `json:"metadata,omitempty"`
}

// ListKeys lists the stored keys
type ListKeys struct{}

func (GenerateKeypair) Name() string     { return string(broker.ActionGenerateKeypair) }
func (GenerateKeypair) Privileged() bool { return true }
func (SignMessage) Name() string         { return string(broker.ActionSignMessage) }
func (SignMessage) Privileged() bool     { return true }
func (ListKeys) Name() string            { return "listKeys" }
func (ListKeys) Privileged() bool        { return false }

// ParseAction decodes a request payload into its action
func ParseAction(payload any) (Action, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil, vaulterr.Validation("router.parse", "Malformed request payload")
	}

	name, _ := m["action"].(string)
	switch name {
	case "generateKeypair":
		return GenerateKeypair{}, nil

	case "signMessage":
		var a SignMessage
		var err error
		if a.PublicKey, err = stringField(m, "publicKey", true); err != nil {
			return nil, err
		}
		if a.Message, err = stringField(m, "message", false); err != nil {
			return nil, err
		}
		switch md := m["metadata"].(type) {
		case nil:
		case map[string]any:
			a.Metadata = keymanager.Metadata(md).Signed()
		default:
			return nil, vaulterr.Validation("router.parse", "metadata must be an object")
		}
		return a, nil

	case "listKeys":
		return ListKeys{}, nil

	default:
		return nil, vaulterr.Validation("router.parse", "Unknown action")
	}
}

func stringField(m map[string]any, key string, required bool) (string, error) {
	switch v := m[key].(type) {
	case string:
		if required && v == "" {
			return "", vaulterr.Validation("router.parse", key+" is required")
		}
		return v, nil
	case nil:
		if required {
			return "", vaulterr.Validation("router.parse", key+" is required")
		}
		return "", nil
	default:
		return "", vaulterr.Validation("router.parse", key+" must be a string")
	}
}
