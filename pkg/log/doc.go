/*
Package log provides certdeploy's two independent logging sinks, built on
zerolog.

certdeploy keeps application logs and SFTP transport logs separate (C11):
each has its own output file and its own severity threshold, because the
SFTP log is typically far noisier (every connection, every file open) than
the application log an operator tails for renewal/push/update activity.

Initialize once per process:

	sinks, err := log.Init(log.Config{
		AppFilename:  "/var/log/certdeploy/server.log",
		AppLevel:     types.LogLevelInfo,
		SFTPFilename: "/var/log/certdeploy/server-sftp.log",
		SFTPLevel:    types.LogLevelWarning,
	}, "server")
	// sinks.App and sinks.SFTP are the two zerolog.Logger values.

Errors logged through Sinks.Tagged carry the stable prefix
"ERROR:certdeploy-{server,client}:<Kind>:", which the integration tests
match against. Error-level lines written directly on a zerolog.Logger (for
example the per-attempt push failures) do not carry it.
*/
package log
