/*
Package server provides the HTTP interface to ROI loading, the seam used by
viewer front-ends such as a napari widget.  It also holds the TOML
configuration that sets up logging, storage mounts and the loader.

Run "zroi serve <config.toml>" and see /api/help on the running server for the
list of calls.
*/
package server
