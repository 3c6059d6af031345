/*
Package cli provides command-line interface utilities for Gatekeeper.

The cli package includes output formatters, progress reporters, error types
and signal handling used by the gatekeeper command.

Output Formatting:

Results can be written as text, JSON or CSV. Results that implement Table
are aligned in text output and are the only values CSV accepts:

	format, err := cli.ParseOutputFormat(flagValue)
	if err != nil {
		return err
	}
	if err := cli.NewFormatter(format).FormatTo(os.Stdout, tiers); err != nil {
		return err
	}

Progress Reporting:

Long-running commands such as bench report progress on stderr:

	progress := cli.NewProgressReporter(nil)
	progress.Start(total)
	progress.Update(done)
	progress.Finish()

Exit Codes:

ExitCode maps command errors to process exit codes: 2 for configuration
errors, 3 when a check was rejected (ErrRejected), 1 otherwise.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
