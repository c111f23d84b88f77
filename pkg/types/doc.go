/*
Package types defines the core data structures shared across certdeploy's
server and client binaries.

This package contains the domain model described by the wire contract between
the two sides: lineages, push jobs, client connection descriptors, and the
tagged update-service descriptor variants a client daemon executes after a
promotion. All other packages build on these types rather than defining their
own parallel representations.

# Core Types

Push pipeline (server side):
  - LineageFiles: the PEM file names a lineage directory can hold (a
    lineage itself is identified by its directory's basename)
  - PushJob: the intent to deliver one lineage to every targeted client
  - ClientDescriptor: one remote certdeploy-client target

Update pipeline (client side):
  - UpdateService: a tagged variant describing one post-promotion action
  - FilePermissions: ownership/mode to enforce on promoted lineages

Types are plain structs serialized with encoding/json for the queue file,
and with yaml tags for configuration file decoding.
*/
package types
