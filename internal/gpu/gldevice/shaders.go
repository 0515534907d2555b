package gldevice

// skyColor fills pixels no opaque geometry covered.
var skyColor = [3]float32{0.45, 0.6, 0.8}

// sceneBlockSrc mirrors scene.Uniforms. sunDir.xyz points toward the sun and
// sunDir.w is its intensity.
const sceneBlockSrc = `
layout(std140) uniform Scene {
    mat4 viewProj;
    mat4 shadowMat[4];
    vec4 sunDir;
    vec4 ambient;
    vec4 cameraPos;
    uint cascades;
    uint rayQuery;
    vec2 screenSize;
};
`

// lightingSrc is shared by forward shading and the G-buffer resolve.
const lightingSrc = `
uniform sampler2DArrayShadow uShadowMap;
uniform samplerBuffer uTlasNodes;
uniform samplerBuffer uTlasBoxes;
uniform int uTlasNodeCount;

float cascadeShadow(vec3 world) {
    for (uint c = 0u; c < cascades; c++) {
        vec4 ls = shadowMat[c] * vec4(world, 1.0);
        vec3 p = ls.xyz / ls.w * 0.5 + 0.5;
        if (all(greaterThanEqual(p, vec3(0.0))) && all(lessThanEqual(p, vec3(1.0)))) {
            return texture(uShadowMap, vec4(p.xy, float(c), p.z - 0.0015));
        }
    }
    return 1.0;
}

bool rayBox(vec3 o, vec3 invD, vec3 bmin, vec3 bmax, out float tNear) {
    vec3 t0 = (bmin - o) * invD;
    vec3 t1 = (bmax - o) * invD;
    vec3 lo = min(t0, t1);
    vec3 hi = max(t0, t1);
    tNear = max(max(lo.x, lo.y), lo.z);
    float tFar = min(min(hi.x, hi.y), hi.z);
    return tFar >= max(tNear, 0.0);
}

bool inside(vec3 p, vec3 bmin, vec3 bmax) {
    return all(greaterThanEqual(p, bmin)) && all(lessThanEqual(p, bmax));
}

// rayOccluded walks the TLAS. Boxes containing the origin are skipped so a
// surface never shadows itself.
bool rayOccluded(vec3 o, vec3 d) {
#ifdef RAY_QUERY
    if (rayQuery == 0u || uTlasNodeCount == 0) {
        return false;
    }
    vec3 invD = 1.0 / d;
    int stack[32];
    int sp = 0;
    stack[sp++] = 0;
    while (sp > 0) {
        int n = stack[--sp];
        vec4 a = texelFetch(uTlasNodes, n * 2);
        vec4 b = texelFetch(uTlasNodes, n * 2 + 1);
        float t;
        if (!rayBox(o, invD, a.xyz, b.xyz, t)) {
            continue;
        }
        int x = floatBitsToInt(a.w);
        int y = floatBitsToInt(b.w);
        if (y < 0) {
            for (int i = x; i < x - y; i++) {
                vec4 lo = texelFetch(uTlasBoxes, i * 2);
                vec4 hi = texelFetch(uTlasBoxes, i * 2 + 1);
                if (inside(o, lo.xyz, hi.xyz)) {
                    continue;
                }
                if (rayBox(o, invD, lo.xyz, hi.xyz, t) && t > 0.01) {
                    return true;
                }
            }
        } else if (sp < 30) {
            stack[sp++] = y;
            stack[sp++] = x;
        }
    }
#endif
    return false;
}

vec3 shade(vec3 albedo, vec3 world, vec3 n) {
    vec3 l = normalize(sunDir.xyz);
    float ndl = max(dot(n, l), 0.0);
    float lit = ndl > 0.0 ? cascadeShadow(world) : 0.0;
    if (lit > 0.0 && rayOccluded(world + n * 0.02, l)) {
        lit = 0.0;
    }
    return albedo * (ambient.rgb + vec3(sunDir.w) * ndl * lit);
}
`

const worldVertexSrc = sceneBlockSrc + `
uniform int uBaseInstance;
uniform int uCascade;
uniform samplerBuffer uInstances;
uniform samplerBuffer uMatrices;

#if defined(LAYOUT_SKINNED)
layout(location = 0) in vec3 aNorm;
layout(location = 1) in vec2 aUV;
layout(location = 2) in vec4 aColor;
layout(location = 3) in vec3 aPos0;
layout(location = 4) in vec3 aPos1;
layout(location = 5) in vec3 aPos2;
layout(location = 6) in vec3 aPos3;
layout(location = 7) in uvec4 aBones;
layout(location = 8) in vec4 aWeights;
#else
layout(location = 0) in vec3 aPos;
layout(location = 1) in vec3 aNorm;
layout(location = 2) in vec2 aUV;
layout(location = 3) in vec4 aColor;
#endif

out vec3 vWorld;
out vec3 vNorm;
out vec2 vUV;
out vec4 vColor;

mat4 fetchMat(samplerBuffer buf, int base) {
    return mat4(texelFetch(buf, base), texelFetch(buf, base + 1),
                texelFetch(buf, base + 2), texelFetch(buf, base + 3));
}

void main() {
    vec4 world;
    vec3 norm;
#if defined(LAYOUT_PARTICLE)
    world = vec4(aPos, 1.0);
    norm = aNorm;
#else
    // Instance records are five texels: model matrix, then bone offset.
    int inst = (uBaseInstance + gl_InstanceID) * 5;
    mat4 model = fetchMat(uInstances, inst);
  #if defined(LAYOUT_SKINNED)
    int boneBase = floatBitsToInt(texelFetch(uInstances, inst + 4).x);
    vec3 p[4] = vec3[4](aPos0, aPos1, aPos2, aPos3);
    vec3 pos = vec3(0.0);
    vec3 n = vec3(0.0);
    for (int i = 0; i < 4; i++) {
        mat4 bone = fetchMat(uMatrices, (boneBase + int(aBones[i])) * 4);
        pos += aWeights[i] * (bone * vec4(p[i], 1.0)).xyz;
        n += aWeights[i] * (mat3(bone) * aNorm);
    }
    world = model * vec4(pos, 1.0);
    norm = mat3(model) * n;
  #else
    world = model * vec4(aPos, 1.0);
    norm = mat3(model) * aNorm;
  #endif
#endif
    vWorld = world.xyz;
    vNorm = norm;
    vUV = aUV;
    vColor = aColor;
#if defined(PASS_SHADOW)
    gl_Position = shadowMat[uCascade] * world;
#else
    gl_Position = viewProj * world;
#endif
}
`

const worldFragmentSrc = sceneBlockSrc + lightingSrc + `
uniform sampler2D uAlbedo;

in vec3 vWorld;
in vec3 vNorm;
in vec2 vUV;
in vec4 vColor;

#if defined(PASS_GBUFFER)
layout(location = 0) out vec4 oAlbedo;
layout(location = 1) out vec4 oNormal;
layout(location = 2) out vec4 oPosition;
#elif defined(PASS_HIZ)
layout(location = 0) out float oDepth;
#elif defined(PASS_FORWARD)
layout(location = 0) out vec4 oColor;
#endif

void main() {
    vec4 base = texture(uAlbedo, vUV) * vColor;
#if defined(ALPHA_TEST)
    if (base.a < 0.5) {
        discard;
    }
#endif
#if defined(PASS_GBUFFER)
    oAlbedo = vec4(base.rgb, 1.0);
    oNormal = vec4(normalize(vNorm) * 0.5 + 0.5, 1.0);
    oPosition = vec4(vWorld, 1.0);
#elif defined(PASS_HIZ)
    oDepth = gl_FragCoord.z;
#elif defined(PASS_FORWARD)
  #if defined(UNLIT)
    oColor = base;
  #else
    oColor = vec4(shade(base.rgb, vWorld, normalize(vNorm)), base.a);
  #endif
#endif
}
`

const resolveVertexSrc = `
out vec2 vUV;

void main() {
    vec2 p = vec2((gl_VertexID << 1) & 2, gl_VertexID & 2);
    vUV = p;
    gl_Position = vec4(p * 2.0 - 1.0, 0.0, 1.0);
}
`

const resolveFragmentSrc = sceneBlockSrc + lightingSrc + `
uniform sampler2D uGAlbedo;
uniform sampler2D uGNormal;
uniform sampler2D uGPosition;

in vec2 vUV;
layout(location = 0) out vec4 oColor;

const vec3 sky = vec3(0.45, 0.6, 0.8);

void main() {
    vec4 pos = texture(uGPosition, vUV);
    if (pos.a == 0.0) {
        oColor = vec4(sky, 1.0);
        return;
    }
    vec3 albedo = texture(uGAlbedo, vUV).rgb;
    vec3 n = normalize(texture(uGNormal, vUV).xyz * 2.0 - 1.0);
    oColor = vec4(shade(albedo, pos.xyz, n), 1.0);
}
`

// hizReduceFragmentSrc writes the farthest depth of the 2x2 source texels
// under each destination texel. The odd row or column of an odd-sized source
// is folded into the last destination texel.
const hizReduceFragmentSrc = `
uniform sampler2D uAlbedo;

layout(location = 0) out float oDepth;

void main() {
    ivec2 src = textureSize(uAlbedo, 0);
    ivec2 dst = max(src / 2, ivec2(1));
    ivec2 p = ivec2(gl_FragCoord.xy);
    ivec2 lo = p * 2;
    ivec2 hi = min(lo + 1, src - 1);
    if (p.x == dst.x - 1) {
        hi.x = src.x - 1;
    }
    if (p.y == dst.y - 1) {
        hi.y = src.y - 1;
    }
    float d = 0.0;
    for (int y = lo.y; y <= hi.y; y++) {
        for (int x = lo.x; x <= hi.x; x++) {
            d = max(d, texelFetch(uAlbedo, ivec2(x, y), 0).r);
        }
    }
    oDepth = d;
}
`
