package spatial

// Plane is the set of points satisfying Normal·p + D = 0. Frustum planes
// point inward: a positive distance means inside.
type Plane struct {
	Normal Vector3f
	D      float32
}

func (p Plane) DistanceTo(point Vector3f) float32 {
	return p.Normal.Dot(point) + p.D
}

func (p Plane) normalized() Plane {
	length := (float32)(p.Normal.Length())
	if length == 0 {
		return p
	}
	return Plane{
		Normal: Mul(p.Normal, 1/length),
		D:      p.D / length,
	}
}

// Mat4 is a 4x4 matrix in column-major order: element (column c, row r) is
// stored at index c*4+r.
type Mat4 [16]float32

func (m Mat4) row(i int) (x, y, z, w float32) {
	return m[i], m[4+i], m[8+i], m[12+i]
}

// Frustum is a convex volume delimited by six inward-facing planes. Origin is
// the viewpoint the volume was built from; query results are ordered by
// distance to it.
type Frustum struct {
	Planes [6]Plane
	Origin Vector3f
}

func NewFrustum(planes [6]Plane, origin Vector3f) *Frustum {
	f := &Frustum{Origin: origin}
	for i, p := range planes {
		f.Planes[i] = p.normalized()
	}
	return f
}

// FrustumFromMatrix extracts the six clip planes from a view-projection
// matrix (left, right, bottom, top, near, far). The origin is the camera
// position the matrix was built from; the matrix alone does not carry it.
func FrustumFromMatrix(vp Mat4, origin Vector3f) *Frustum {
	r0x, r0y, r0z, r0w := vp.row(0)
	r1x, r1y, r1z, r1w := vp.row(1)
	r2x, r2y, r2z, r2w := vp.row(2)
	r3x, r3y, r3z, r3w := vp.row(3)

	planes := [6]Plane{
		{Normal: Vector3f{r3x + r0x, r3y + r0y, r3z + r0z}, D: r3w + r0w},
		{Normal: Vector3f{r3x - r0x, r3y - r0y, r3z - r0z}, D: r3w - r0w},
		{Normal: Vector3f{r3x + r1x, r3y + r1y, r3z + r1z}, D: r3w + r1w},
		{Normal: Vector3f{r3x - r1x, r3y - r1y, r3z - r1z}, D: r3w - r1w},
		{Normal: Vector3f{r3x + r2x, r3y + r2y, r3z + r2z}, D: r3w + r2w},
		{Normal: Vector3f{r3x - r2x, r3y - r2y, r3z - r2z}, D: r3w - r2w},
	}

	return NewFrustum(planes, origin)
}

// ContainsSphere reports whether the sphere is at least partially inside.
func (f *Frustum) ContainsSphere(center Vector3f, radius float32) bool {
	for _, p := range f.Planes {
		if p.DistanceTo(center) < -radius {
			return false
		}
	}
	return true
}

// IntersectsBox tests the box corner most aligned with each plane normal
// (the positive vertex): if that corner is behind a plane, the whole box is.
func (f *Frustum) IntersectsBox(b Box) bool {
	for _, p := range f.Planes {
		v := b.Min
		if p.Normal.X >= 0 {
			v.X = b.Max.X
		}
		if p.Normal.Y >= 0 {
			v.Y = b.Max.Y
		}
		if p.Normal.Z >= 0 {
			v.Z = b.Max.Z
		}
		if p.DistanceTo(v) < 0 {
			return false
		}
	}
	return true
}

// ContainsBox reports whether every corner of the box is inside. Used for the
// world-enclosing fast path.
func (f *Frustum) ContainsBox(b Box) bool {
	for _, corner := range b.Corners() {
		for _, p := range f.Planes {
			if p.DistanceTo(corner) < 0 {
				return false
			}
		}
	}
	return true
}

// BoxFrustum builds a frustum matching an axis-aligned box. Mostly useful in
// tests and debugging commands where a full view-projection matrix would be
// noise.
func BoxFrustum(b Box, origin Vector3f) *Frustum {
	planes := [6]Plane{
		{Normal: Vector3f{1, 0, 0}, D: -b.Min.X},
		{Normal: Vector3f{-1, 0, 0}, D: b.Max.X},
		{Normal: Vector3f{0, 1, 0}, D: -b.Min.Y},
		{Normal: Vector3f{0, -1, 0}, D: b.Max.Y},
		{Normal: Vector3f{0, 0, 1}, D: -b.Min.Z},
		{Normal: Vector3f{0, 0, -1}, D: b.Max.Z},
	}
	return NewFrustum(planes, origin)
}
