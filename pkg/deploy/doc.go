/*
Package deploy implements certdeploy's client daemon orchestrator (C10):
the component that ties the embedded SFTP server (C7), the staging
promoter (C8) and the update drivers (C9) into one state machine per
client.

	idle → uploading → promoting → updating → idle

The SFTP server and filesystem watcher observe "uploading" implicitly; the
Orchestrator itself starts once a lineage has settled, driving "promoting"
(one Promoter.Promote call) and then "updating" (the configured
update_services, run in declaration order). A driver failure under
fail_fast cancels the watch loop and Run returns that error so the caller
can exit non-zero; otherwise the failure is logged and the next
update_service still runs.
*/
package deploy
