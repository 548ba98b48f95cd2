package gpu

// Attribute and sampler names shared by the shader programs
const (
	AttribPosition = "a_position"
	AttribTexCoord = "a_texCoord"

	SamplerY    = "y_texture"
	SamplerU    = "u_texture"
	SamplerV    = "v_texture"
	SamplerRGBA = "u_texture"
)

// VertexShader passes the quad through untouched
const VertexShader = `attribute vec4 a_position;
attribute vec2 a_texCoord;
varying vec2 v_texCoord;
void main() {
  gl_Position = a_position;
  v_texCoord = a_texCoord;
}
`

// PlanarFragmentShader samples three luminance planes and converts them to
// RGB with full-range BT.601 coefficients
const PlanarFragmentShader = `precision mediump float;
uniform sampler2D y_texture;
uniform sampler2D u_texture;
uniform sampler2D v_texture;
varying vec2 v_texCoord;
void main() {
  float y = clamp(texture2D(y_texture, v_texCoord).r, 0.0, 1.0);
  float u = clamp(texture2D(u_texture, v_texCoord).r, 0.0, 1.0) - 0.5;
  float v = clamp(texture2D(v_texture, v_texCoord).r, 0.0, 1.0) - 0.5;
  float r = y + 1.402 * v;
  float g = y - 0.344136 * u - 0.714136 * v;
  float b = y + 1.772 * u;
  gl_FragColor = vec4(clamp(r, 0.0, 1.0), clamp(g, 0.0, 1.0), clamp(b, 0.0, 1.0), 1.0);
}
`

// TextureFragmentShader samples a single RGBA texture
const TextureFragmentShader = `precision mediump float;
uniform sampler2D u_texture;
varying vec2 v_texCoord;
void main() {
  gl_FragColor = texture2D(u_texture, v_texCoord);
}
`
