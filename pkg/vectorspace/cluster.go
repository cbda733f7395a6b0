package vectorspace

import "fmt"

// ClusterMethod names a clustering algorithm.
type ClusterMethod string

const (
	// MethodKMeans is Lloyd's algorithm with random or k-means++ seeding.
	MethodKMeans ClusterMethod = "kmeans"
	// MethodDBSCAN is density-based clustering with a reserved noise id.
	MethodDBSCAN ClusterMethod = "dbscan"
	// MethodHierarchical is bottom-up agglomerative clustering.
	MethodHierarchical ClusterMethod = "hierarchical"
)

// ClusterParams configures any of the clustering methods. Fields irrelevant
// to the chosen method are ignored.
type ClusterParams struct {
	// Clusters is the target cluster count for k-means and hierarchical.
	Clusters int
	// MaxIterations caps Lloyd's iterations (default 100).
	MaxIterations int
	// Tolerance is the centroid-movement convergence threshold for
	// k-means (default 1e-4).
	Tolerance float64
	// Seed makes k-means (and its k-means++ seeding) deterministic.
	Seed int64
	// RandomInit selects plain random seeding instead of k-means++.
	RandomInit bool
	// Eps is the DBSCAN neighborhood radius.
	Eps float64
	// MinSamples is the DBSCAN core-point density threshold.
	MinSamples int
	// Linkage selects the hierarchical merge criterion (default average).
	Linkage Linkage
}

// Cluster runs the named method and returns a mapping from cluster id to
// member indices. DBSCAN may include the reserved NoiseCluster id.
//
// A corpus of exactly one vector returns a single-element cluster for every
// method. Requesting more clusters than there are vectors fails with
// ErrInsufficientData.
func Cluster(vectors [][]float32, method ClusterMethod, params ClusterParams) (map[int][]int, error) {
	if _, err := checkDimensions(vectors); err != nil {
		return nil, err
	}
	if len(vectors) == 1 {
		return map[int][]int{0: {0}}, nil
	}

	switch method {
	case MethodKMeans:
		return KMeans(vectors, params)
	case MethodDBSCAN:
		return DBSCAN(vectors, params)
	case MethodHierarchical:
		return Hierarchical(vectors, params)
	default:
		return nil, fmt.Errorf("cluster method %q: %w", method, ErrUnknownMethod)
	}
}
