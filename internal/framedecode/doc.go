// Package framedecode turns frames from a capture sink into decoded text.
//
// Decoders are the only place image data is interpreted; the rest of the
// pipeline sees strings. CommandDecoder shells out to an external QR reader
// (ffmpeg to grab a frame, zbarimg to decode it by default) and LineDecoder
// serves keyboard-wedge scanners that type each payload followed by a
// newline. Both report ErrNotFound when a frame holds no code.
package framedecode
