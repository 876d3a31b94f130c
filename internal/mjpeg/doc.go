// Package mjpeg pulls single still frames out of live multipart/x-mixed-replace
// camera streams.
//
// The stream never terminates, so the Extractor works on a growing buffer fed by
// fixed-size reads and returns as soon as the first part has been delimited by a
// following boundary. A part is only accepted after its header/body separator has
// been found, and a declared Content-Length longer than the bytes seen so far
// marks the boundary match as part of the image payload rather than a delimiter.
//
// Grabber wraps the Extractor with the one-connection-per-frame HTTP fetch used by
// the guard monitor.
package mjpeg
