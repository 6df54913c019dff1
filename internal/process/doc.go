// Package process provides subprocess lifecycle management.
//
// Process wraps os/exec for one subprocess:
//   - Run blocks until the subprocess exits or the context is cancelled
//   - RunWithRestart swaps the command on RequestRestart (capture settings)
//   - Start, Stdin and Finish drive encoders fed frame by frame on stdin;
//     Finish closes stdin so the muxer can write its trailer, then escalates
//     to SIGINT and SIGKILL on timeout
//   - Output lines go through a LogParser and an optional OutputHandler
//
// Example usage for a stdin-fed encoder:
//
//	p := process.NewProcess("segment", cmd, logger, process.WithStdin())
//	if err := p.Start(); err != nil {
//	    return err
//	}
//	p.Stdin().Write(frame.Pix)
//	code, _ := p.Finish()
package process
