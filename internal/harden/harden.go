// Package harden keeps the unlocked password and secret keys from leaving
// process memory: no core dumps, no privilege escalation, optionally no swap.
package harden

import "github.com/rs/zerolog/log"

// Options selects the hardening steps
type Options struct {
	// DevMode skips hardening entirely
	DevMode bool
	// LockMemory pins all pages in RAM (mlockall); needs a raised RLIMIT_MEMLOCK
	LockMemory bool
}

// Apply hardens the current process. Steps that fail are logged and skipped;
// call Verify to find out what actually took effect.
func Apply(opts Options) {
	if opts.DevMode {
		log.Warn().Msg("SECURITY WARNING: Running in dev mode, process hardening skipped")
		return
	}
	apply(opts)
}

// Verify reports an error if core dumps are enabled or no_new_privs is unset
func Verify() error {
	return verify()
}
