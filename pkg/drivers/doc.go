/*
Package drivers implements certdeploy's update drivers (C9): the five
post-promotion actions a client daemon can run against an UpdateService
descriptor. Every driver exposes the same contract, Run(ctx, descriptor)
error, and maps its own failure mode onto a typed error kind so the client
orchestrator (C10) can decide whether fail_fast should abort the daemon.

	container             restart a Docker container by exact name or filter
	orchestrator_service   roll a Swarm service (resolved by name, not filter)
	init_unit              systemctl restart|reload <name>
	rc_unit                service <name> restart|reload
	script                 spawn an external script, fail on nonzero exit/signal

Each driver resolves its own timeout: descriptor.Timeout, falling back to a
per-category default passed in at construction, falling back to no
deadline at all.
*/
package drivers
