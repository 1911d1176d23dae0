package manifold

// DefaultSegments is the facet count of round primitives around their axis.
const DefaultSegments = 64
