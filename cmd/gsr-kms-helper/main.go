// Command gsr-kms-helper is the small privileged process spec §4.2
// describes: it owns CAP_SYS_ADMIN (or is launched via pkexec/
// flatpak-spawn so it can acquire it) and is the only part of the
// pipeline that talks to /dev/dri/cardN directly. It connects back to the
// parent's handoff socket, receives the socketpair fd via
// REPLACE_CONNECTION, and serves GET_KMS requests until the parent kills it.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/kmsbroker"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/logging"
)

func main() {
	handoff := flag.String("handoff", "", "abstract or file-backed handoff socket path")
	flag.Parse()

	logging.Init("text", "info", os.Stderr)
	log := logging.L("kms-helper")

	if *handoff == "" {
		fmt.Fprintln(os.Stderr, "gsr-kms-helper: --handoff is required")
		os.Exit(2)
	}

	if err := kmsbroker.RunHelper(*handoff); err != nil {
		log.Error("helper exited with error", "error", err)
		os.Exit(3)
	}
}
