// Package backend selects shader compilers by target profile.
//
// Compiler packages register a factory per profile they emit, typically
// from init:
//
//	func init() {
//	    backend.Register("spirv", func() technique.ShaderCompiler { return NewSPIRVCompiler() })
//	}
//
// Importing backend/native registers the naga compiler for the "spirv" and
// "wgsl" profiles.
package backend
