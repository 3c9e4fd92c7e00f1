// Package cabi is the C boundary between build engines and resolvers.
//
// Results cross the boundary as tsb_resolve_result values allocated with the
// C allocator. Whoever receives one owns it and must release it with
// ResultABI.Free. Nothing else in the module touches C memory.
//
// File content is length-delimited and may contain NUL bytes. Paths and
// directory entries are C strings: a request path is read up to its NUL when
// path_length is zero, and a directory listing with a NUL inside an entry
// name crosses as not found. Lengths larger than any Go slice are rejected.
package cabi
