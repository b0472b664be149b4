package types

// Point is a position in logical screen coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a logical width and height.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an origin plus a size.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Geometry describes a window frame and content area. Every field is
// optional; a nil field is left untouched when used in a request.
type Geometry struct {
	FrameOrigin    *Point `json:"frameOrigin,omitempty"`
	FrameSize      *Size  `json:"frameSize,omitempty"`
	ContentOrigin  *Point `json:"contentOrigin,omitempty"`
	ContentSize    *Size  `json:"contentSize,omitempty"`
	MinFrameSize   *Size  `json:"minFrameSize,omitempty"`
	MaxFrameSize   *Size  `json:"maxFrameSize,omitempty"`
	MinContentSize *Size  `json:"minContentSize,omitempty"`
	MaxContentSize *Size  `json:"maxContentSize,omitempty"`
}

// GeometryPreference selects which of two conflicting fields wins.
type GeometryPreference string

const (
	PreferFrame   GeometryPreference = "preferFrame"
	PreferContent GeometryPreference = "preferContent"
)

// GeometryRequest is the setGeometry payload.
type GeometryRequest struct {
	Geometry   Geometry           `json:"geometry"`
	Preference GeometryPreference `json:"preference"`
}

// Filtered drops the fields that lose against their counterpart under the
// request preference. With PreferContent a frame field is dropped when the
// matching content field is present, and the other way round.
func (r GeometryRequest) Filtered() Geometry {
	g := r.Geometry
	if r.Preference == PreferContent {
		if g.ContentOrigin != nil {
			g.FrameOrigin = nil
		}
		if g.ContentSize != nil {
			g.FrameSize = nil
		}
		if g.MinContentSize != nil {
			g.MinFrameSize = nil
		}
		if g.MaxContentSize != nil {
			g.MaxFrameSize = nil
		}
		return g
	}
	if g.FrameOrigin != nil {
		g.ContentOrigin = nil
	}
	if g.FrameSize != nil {
		g.ContentSize = nil
	}
	if g.MinFrameSize != nil {
		g.MinContentSize = nil
	}
	if g.MaxFrameSize != nil {
		g.MaxContentSize = nil
	}
	return g
}

// GeometryFlags is a bitset naming geometry fields.
type GeometryFlags uint16

const (
	FlagFrameOrigin GeometryFlags = 1 << iota
	FlagFrameSize
	FlagContentOrigin
	FlagContentSize
	FlagMinFrameSize
	FlagMaxFrameSize
	FlagMinContentSize
	FlagMaxContentSize
)

// AllGeometryFlags has every field set.
const AllGeometryFlags = FlagFrameOrigin | FlagFrameSize | FlagContentOrigin | FlagContentSize |
	FlagMinFrameSize | FlagMaxFrameSize | FlagMinContentSize | FlagMaxContentSize

// Has reports whether every flag in f is set.
func (g GeometryFlags) Has(f GeometryFlags) bool {
	return g&f == f
}
