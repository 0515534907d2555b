// Package shader provides OpenGL shader compilation utilities.
package shader

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-gl/gl/v4.1-core/gl"
)

// Version is the GLSL version line every program is compiled with.
const Version = "#version 410 core"

// Variant prefixes source with the version line and one #define per entry of
// defines. Defines are sorted so equal sets produce identical sources.
func Variant(source string, defines ...string) string {
	sorted := append([]string(nil), defines...)
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteString(Version)
	b.WriteByte('\n')
	for _, d := range sorted {
		if d == "" {
			continue
		}
		b.WriteString("#define ")
		b.WriteString(d)
		b.WriteByte('\n')
	}
	b.WriteString("#line 1\n")
	b.WriteString(strings.TrimPrefix(source, "\n"))
	return b.String()
}

// CompileProgram compiles vertex and fragment shaders and links them into a program.
// Returns the program ID or an error if compilation/linking fails.
func CompileProgram(vertexSrc, fragmentSrc string) (uint32, error) {
	vertShader, err := compileShader(vertexSrc, gl.VERTEX_SHADER, "vertex")
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(vertShader)

	fragShader, err := compileShader(fragmentSrc, gl.FRAGMENT_SHADER, "fragment")
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(fragShader)

	program := gl.CreateProgram()
	gl.AttachShader(program, vertShader)
	gl.AttachShader(program, fragShader)
	gl.LinkProgram(program)

	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLen)
		log := make([]byte, logLen+1)
		gl.GetProgramInfoLog(program, logLen, nil, &log[0])
		gl.DeleteProgram(program)
		return 0, fmt.Errorf("link: %s", strings.TrimRight(string(log), "\x00"))
	}

	return program, nil
}

// compileShader compiles a single shader of the given type.
func compileShader(source string, shaderType uint32, name string) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csource, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csource, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLen int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLen)
		log := make([]byte, logLen+1)
		gl.GetShaderInfoLog(shader, logLen, nil, &log[0])
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("%s shader: %s", name, strings.TrimRight(string(log), "\x00"))
	}

	return shader, nil
}

// GetUniform returns the uniform location for the given name, or -1 if the
// uniform is not found or inactive.
func GetUniform(program uint32, name string) int32 {
	return gl.GetUniformLocation(program, gl.Str(name+"\x00"))
}

// BindSampler points a sampler uniform at a texture unit. Inactive samplers
// are skipped.
func BindSampler(program uint32, name string, unit int32) {
	if loc := GetUniform(program, name); loc >= 0 {
		gl.UseProgram(program)
		gl.Uniform1i(loc, unit)
	}
}

// BindBlock assigns a uniform block to a binding point. Returns false if the
// program has no such block.
func BindBlock(program uint32, name string, binding uint32) bool {
	idx := gl.GetUniformBlockIndex(program, gl.Str(name+"\x00"))
	if idx == gl.INVALID_INDEX {
		return false
	}
	gl.UniformBlockBinding(program, idx, binding)
	return true
}
