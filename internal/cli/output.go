package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mesmerverse/maci-keyvault/internal/protocol"
)

// printer renders replies as text or JSON
type printer struct {
	w      io.Writer
	format string
}

func newPrinter(w io.Writer, format string) *printer {
	return &printer{w: w, format: format}
}

func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// data renders a successful reply payload. Replies arrive as generic maps
// after decoding, so text output walks them instead of typed structs.
func (p *printer) data(v any) error {
	if p.format == "json" {
		return p.json(v)
	}

	switch d := v.(type) {
	case nil:
		_, err := fmt.Fprintln(p.w, "OK")
		return err
	case []any:
		return p.table(d)
	case map[string]any:
		return p.fields(d)
	default:
		_, err := fmt.Fprintln(p.w, d)
		return err
	}
}

func (p *printer) fields(m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k == "privateKey" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s:\t%s\n", k, textValue(m[k]))
	}
	return tw.Flush()
}

func (p *printer) table(rows []any) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(p.w, "(none)")
		return err
	}

	var cols []string
	seen := map[string]bool{}
	for _, r := range rows {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		for k := range m {
			if k != "privateKey" && !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(cols, "\t")))
	for _, r := range rows {
		m, _ := r.(map[string]any)
		vals := make([]string, len(cols))
		for i, c := range cols {
			vals[i] = textValue(m[c])
		}
		fmt.Fprintln(tw, strings.Join(vals, "\t"))
	}
	return tw.Flush()
}

func textValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// resultError turns a failed internal result into an error
func resultError(res protocol.Result) error {
	if res.Success {
		return nil
	}
	if res.Error == "" {
		return errors.New("request failed")
	}
	return errors.New(res.Error)
}

// frameData unwraps a reply frame into its data or error
func frameData(f protocol.Frame) (any, error) {
	switch f.Type {
	case protocol.TypeResponse:
		m, ok := f.Payload.(map[string]any)
		if !ok {
			return f.Payload, nil
		}
		if success, _ := m["success"].(bool); !success {
			msg, _ := m["error"].(string)
			if msg == "" {
				msg = "request failed"
			}
			return nil, errors.New(msg)
		}
		return m["data"], nil
	case protocol.TypeError:
		msg, _ := f.Payload.(string)
		if msg == "" {
			msg = "request failed"
		}
		return nil, errors.New(msg)
	case protocol.TypePong:
		return "PONG", nil
	default:
		return nil, fmt.Errorf("unexpected frame type %q", f.Type)
	}
}
