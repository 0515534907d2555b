package mesh

import (
	"fmt"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/Faultbox/worldview/pkg/math"
)

// LoadGLTF reads every triangle primitive of a .gltf or .glb file into one
// vertex and index list in mesh space. Node transforms are ignored. Missing
// normals are computed by averaging face normals.
func LoadGLTF(path string) ([]Vertex, []uint32, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("mesh: open gltf: %w", err)
	}
	verts, indices, err := FromGLTF(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("mesh: %s: %w", path, err)
	}
	return verts, indices, nil
}

// FromGLTF flattens the triangle primitives of doc.
func FromGLTF(doc *gltf.Document) ([]Vertex, []uint32, error) {
	var verts []Vertex
	var indices []uint32
	for _, m := range doc.Meshes {
		for i, prim := range m.Primitives {
			if prim.Mode != gltf.PrimitiveTriangles {
				continue
			}
			v, idx, err := readPrimitive(doc, prim)
			if err != nil {
				return nil, nil, fmt.Errorf("mesh %q primitive %d: %w", m.Name, i, err)
			}
			base := uint32(len(verts))
			for _, ix := range idx {
				indices = append(indices, base+ix)
			}
			verts = append(verts, v...)
		}
	}
	if len(indices) == 0 {
		return nil, nil, fmt.Errorf("no triangles")
	}
	return verts, indices, nil
}

func readPrimitive(doc *gltf.Document, prim *gltf.Primitive) ([]Vertex, []uint32, error) {
	posIdx, ok := prim.Attributes[gltf.POSITION]
	if !ok {
		return nil, nil, fmt.Errorf("no positions")
	}
	positions, err := modeler.ReadPosition(doc, doc.Accessors[posIdx], nil)
	if err != nil {
		return nil, nil, fmt.Errorf("read positions: %w", err)
	}

	var normals [][3]float32
	if idx, ok := prim.Attributes[gltf.NORMAL]; ok {
		if normals, err = modeler.ReadNormal(doc, doc.Accessors[idx], nil); err != nil {
			return nil, nil, fmt.Errorf("read normals: %w", err)
		}
	}
	var uvs [][2]float32
	if idx, ok := prim.Attributes[gltf.TEXCOORD_0]; ok {
		if uvs, err = modeler.ReadTextureCoord(doc, doc.Accessors[idx], nil); err != nil {
			return nil, nil, fmt.Errorf("read uvs: %w", err)
		}
	}

	var indices []uint32
	if prim.Indices != nil {
		if indices, err = modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], nil); err != nil {
			return nil, nil, fmt.Errorf("read indices: %w", err)
		}
	} else {
		indices = make([]uint32, len(positions))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}
	indices = indices[:len(indices)/3*3]
	for _, ix := range indices {
		if int(ix) >= len(positions) {
			return nil, nil, fmt.Errorf("index %d out of %d vertices", ix, len(positions))
		}
	}

	verts := make([]Vertex, len(positions))
	for i, p := range positions {
		verts[i] = Vertex{Pos: p, Color: 0xffffffff}
		if i < len(normals) {
			verts[i].Norm = normals[i]
		}
		if i < len(uvs) {
			verts[i].UV = uvs[i]
		}
	}
	if len(normals) < len(positions) {
		smoothNormals(verts, indices)
	}
	return verts, indices, nil
}

// smoothNormals sets each normal to the normalized sum of its faces'
// area-weighted normals.
func smoothNormals(verts []Vertex, indices []uint32) {
	acc := make([]math.Vec3, len(verts))
	for i := 0; i+2 < len(indices); i += 3 {
		a, b, c := indices[i], indices[i+1], indices[i+2]
		pa, pb, pc := vec(verts[a].Pos), vec(verts[b].Pos), vec(verts[c].Pos)
		n := pb.Sub(pa).Cross(pc.Sub(pa))
		acc[a] = acc[a].Add(n)
		acc[b] = acc[b].Add(n)
		acc[c] = acc[c].Add(n)
	}
	for i, n := range acc {
		n = n.Normalize()
		verts[i].Norm = [3]float32{n.X, n.Y, n.Z}
	}
}
