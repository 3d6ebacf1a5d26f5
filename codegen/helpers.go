package codegen

import "github.com/gogpu/matgraph/graph"

// helpers holds the WGSL source of the shared functions blocks can pull in
// through Compiler.Helper.
var helpers = map[string]string{
	graph.HelperShadeStandard: `fn mg_shade_standard(base: vec3<f32>, n: vec3<f32>, roughness: f32, metallic: f32) -> vec3<f32> {
    let l = normalize(vec3<f32>(0.3, 0.8, 0.5));
    let v = vec3<f32>(0.0, 0.0, 1.0);
    let h = normalize(l + v);
    let ndl = max(dot(n, l), 0.0);
    let ndh = max(dot(n, h), 0.0);
    let shininess = mix(256.0, 4.0, saturate(roughness));
    let f0 = mix(vec3<f32>(0.04), base, saturate(metallic));
    let diffuse = base * (1.0 - saturate(metallic)) * ndl;
    let specular = f0 * pow(ndh, shininess) * ndl;
    return diffuse + specular + base * 0.03;
}`,
}

// Helpers returns the names of the available helper functions.
func Helpers() []string {
	return []string{graph.HelperShadeStandard}
}
