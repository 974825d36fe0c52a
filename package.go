// Comfycoord is a Go coordination core for staged group execution on top of
// ComfyUI-style graph hosts. The host offers no native "run this subset of
// the graph, then that subset, with cleanup between" primitive; comfycoord
// layers one on: a single execution gate with content-addressed dedup, a
// multi-channel image/text cache for passing data between scheduling
// passes, and a validated, push-delivered execution plan protocol.
package comfycoord
