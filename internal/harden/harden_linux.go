//go:build linux

package harden

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

func apply(opts Options) {
	if os.Geteuid() == 0 {
		log.Warn().Msg("SECURITY WARNING: Running as root is not recommended")
	}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		log.Warn().Err(err).Msg("Failed to set no_new_privs")
	} else {
		log.Info().Msg("Set no_new_privs flag")
	}

	if err := unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0}); err != nil {
		log.Warn().Err(err).Msg("Failed to disable core dumps")
	} else {
		log.Info().Msg("Disabled core dumps")
	}

	// Not dumpable also blocks ptrace attach from same-uid processes.
	if err := unix.Prctl(unix.PR_SET_DUMPABLE, 0, 0, 0, 0); err != nil {
		log.Warn().Err(err).Msg("Failed to clear dumpable flag")
	}

	if opts.LockMemory {
		if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
			log.Warn().Err(err).Msg("Failed to lock memory (mlockall)")
		} else {
			log.Info().Msg("Memory locked (mlockall)")
		}
	}
}

func verify() error {
	nnp, err := unix.PrctlRetInt(unix.PR_GET_NO_NEW_PRIVS, 0, 0, 0, 0)
	if err != nil {
		return fmt.Errorf("cannot check no_new_privs: %w", err)
	}
	if nnp != 1 {
		return fmt.Errorf("no_new_privs is not set")
	}

	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_CORE, &rlim); err != nil {
		return fmt.Errorf("cannot check RLIMIT_CORE: %w", err)
	}
	if rlim.Cur != 0 || rlim.Max != 0 {
		return fmt.Errorf("core dumps are enabled")
	}

	return nil
}
