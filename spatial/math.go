package spatial

import "math"

func EqualWithEpsilon(a float32, b float32, epsilon float64) bool {
	return math.Abs((float64)(a-b)) <= epsilon
}

func InRangeWithEpsilon(value float32, min float32, max float32, epsilon float32) bool {
	return value+epsilon >= min && value-epsilon <= max
}

type Vector3f struct {
	X float32
	Y float32
	Z float32
}

func NewVector3f(x, y, z float32) Vector3f {
	return Vector3f{x, y, z}
}

func (v1 Vector3f) EqualWithEpsilon(v2 Vector3f, epsilon float64) bool {
	return math.Abs((float64)(v1.X-v2.X)) <= epsilon &&
		math.Abs((float64)(v1.Y-v2.Y)) <= epsilon &&
		math.Abs((float64)(v1.Z-v2.Z)) <= epsilon
}

func (v1 Vector3f) Equal(v2 Vector3f) bool {
	return v1.X == v2.X && v1.Y == v2.Y && v1.Z == v2.Z
}

func Add(a Vector3f, b Vector3f) Vector3f {
	return Vector3f{a.X + b.X, a.Y + b.Y, a.Z + b.Z}
}

func Sub(a Vector3f, b Vector3f) Vector3f {
	return Vector3f{a.X - b.X, a.Y - b.Y, a.Z - b.Z}
}

func Mul(a Vector3f, s float32) Vector3f {
	return Vector3f{a.X * s, a.Y * s, a.Z * s}
}

func (a Vector3f) Length() float64 {
	return math.Sqrt((float64)(a.X*a.X + a.Y*a.Y + a.Z*a.Z))
}

func (a Vector3f) LengthSq() float32 {
	return a.X*a.X + a.Y*a.Y + a.Z*a.Z
}

func Normalized(a Vector3f) Vector3f {
	length := (float32)(a.Length())
	result := a
	if length != 0 {
		result.X /= length
		result.Y /= length
		result.Z /= length
	}
	return result
}

func (a Vector3f) Dot(b Vector3f) float32 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

func Cross(a Vector3f, b Vector3f) Vector3f {
	return Vector3f{a.Y*b.Z - a.Z*b.Y, a.Z*b.X - a.X*b.Z, a.X*b.Y - a.Y*b.X}
}

func Distance(a Vector3f, b Vector3f) float64 {
	return Sub(a, b).Length()
}

func DistanceSq(a Vector3f, b Vector3f) float32 {
	return Sub(a, b).LengthSq()
}

// Box is an axis-aligned bounding volume delimited by its minimum and maximum
// corners. Both corners are inclusive.
type Box struct {
	Min Vector3f
	Max Vector3f
}

func NewBox(min, max Vector3f) Box {
	return Box{Min: min, Max: max}
}

func BoxFromCenter(center, halfExtents Vector3f) Box {
	return Box{
		Min: Sub(center, halfExtents),
		Max: Add(center, halfExtents),
	}
}

func (b Box) Center() Vector3f {
	return Mul(Add(b.Min, b.Max), 0.5)
}

func (b Box) HalfExtents() Vector3f {
	return Mul(Sub(b.Max, b.Min), 0.5)
}

func (b Box) Size() Vector3f {
	return Sub(b.Max, b.Min)
}

func (b Box) Contains(p Vector3f) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

func (b Box) ContainsBox(o Box) bool {
	return b.Contains(o.Min) && b.Contains(o.Max)
}

func (b Box) Overlaps(o Box) bool {
	return b.Min.X <= o.Max.X && b.Max.X >= o.Min.X &&
		b.Min.Y <= o.Max.Y && b.Max.Y >= o.Min.Y &&
		b.Min.Z <= o.Max.Z && b.Max.Z >= o.Min.Z
}

// Clamp returns p moved to the closest point inside the box.
func (b Box) Clamp(p Vector3f) Vector3f {
	return Vector3f{
		X: clamp(p.X, b.Min.X, b.Max.X),
		Y: clamp(p.Y, b.Min.Y, b.Max.Y),
		Z: clamp(p.Z, b.Min.Z, b.Max.Z),
	}
}

func clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// OverlapsSphere reports whether the sphere intersects the box, using the
// squared distance from the sphere center to the closest box point.
func (b Box) OverlapsSphere(center Vector3f, radius float32) bool {
	closest := b.Clamp(center)
	return DistanceSq(center, closest) <= radius*radius
}

// InSphere reports whether the box is entirely contained in the sphere. The
// farthest corner from the sphere center decides.
func (b Box) InSphere(center Vector3f, radius float32) bool {
	var farthest Vector3f
	if center.X-b.Min.X > b.Max.X-center.X {
		farthest.X = b.Min.X
	} else {
		farthest.X = b.Max.X
	}
	if center.Y-b.Min.Y > b.Max.Y-center.Y {
		farthest.Y = b.Min.Y
	} else {
		farthest.Y = b.Max.Y
	}
	if center.Z-b.Min.Z > b.Max.Z-center.Z {
		farthest.Z = b.Min.Z
	} else {
		farthest.Z = b.Max.Z
	}
	return DistanceSq(center, farthest) <= radius*radius
}

func (b Box) Corners() [8]Vector3f {
	return [8]Vector3f{
		{b.Min.X, b.Min.Y, b.Min.Z},
		{b.Max.X, b.Min.Y, b.Min.Z},
		{b.Min.X, b.Max.Y, b.Min.Z},
		{b.Max.X, b.Max.Y, b.Min.Z},
		{b.Min.X, b.Min.Y, b.Max.Z},
		{b.Max.X, b.Min.Y, b.Max.Z},
		{b.Min.X, b.Max.Y, b.Max.Z},
		{b.Max.X, b.Max.Y, b.Max.Z},
	}
}

// Ray is a half line starting at Origin. Direction is expected to be
// normalized; NewRay takes care of it.
type Ray struct {
	Origin    Vector3f
	Direction Vector3f
}

func NewRay(origin, direction Vector3f) Ray {
	return Ray{
		Origin:    origin,
		Direction: Normalized(direction),
	}
}

func (r Ray) Point(t float32) Vector3f {
	return Add(r.Origin, Mul(r.Direction, t))
}

// IntersectSphere returns the smallest non-negative distance along the ray at
// which it enters the sphere. A ray starting inside the sphere hits at 0.
func (r Ray) IntersectSphere(center Vector3f, radius float32) (float32, bool) {
	oc := Sub(r.Origin, center)

	b := oc.Dot(r.Direction)
	c := oc.LengthSq() - radius*radius
	if c <= 0 {
		return 0, true
	}

	discriminant := b*b - c
	if discriminant < 0 {
		return 0, false
	}

	t := -b - (float32)(math.Sqrt((float64)(discriminant)))
	if t < 0 {
		return 0, false
	}
	return t, true
}
