// Package framecodec converts camera frames to and from the compact text
// form used on the wire between door nodes, the hub and the recognition
// backend.
//
// Every pixel is written as six uppercase hexadecimal characters, two per
// channel in stored order. Pixels in a row are concatenated without a
// separator and rows are joined with a single ';':
//
//	FF000000FF00;0000FFFFFFFF
//
// is a 2x2 grid. The empty string is the empty grid. Decode accepts exactly
// what Encode produces, so Encode(Decode(s)) == s for every string Decode
// accepts, and Decode(Encode(g)) == g for every grid whose rows are non-empty.
//
// Downscaling before encoding is a caller policy; Downscale is provided for
// door nodes that bound payload size that way.
package framecodec
