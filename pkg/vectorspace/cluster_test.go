package vectorspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoBlobs is two well-separated groups of points in 2D.
func twoBlobs() [][]float32 {
	return [][]float32{
		{0, 0}, {0.1, 0}, {0, 0.1}, {0.1, 0.1},
		{10, 10}, {10.1, 10}, {10, 10.1}, {10.1, 10.1},
	}
}

// clusterOf returns the cluster id containing index i, or -2 if absent.
func clusterOf(clusters map[int][]int, i int) int {
	for id, members := range clusters {
		for _, m := range members {
			if m == i {
				return id
			}
		}
	}
	return -2
}

func assertPartition(t *testing.T, clusters map[int][]int, n int) {
	t.Helper()
	seen := make(map[int]bool)
	for _, members := range clusters {
		for _, m := range members {
			assert.False(t, seen[m], "point %d assigned twice", m)
			seen[m] = true
		}
	}
	assert.Len(t, seen, n, "every point assigned exactly once")
}

func TestKMeans(t *testing.T) {
	t.Run("separates two blobs", func(t *testing.T) {
		clusters, err := KMeans(twoBlobs(), ClusterParams{Clusters: 2, Seed: 1})
		require.NoError(t, err)
		require.Len(t, clusters, 2)
		assertPartition(t, clusters, 8)

		// All four points of each blob land together.
		assert.Equal(t, clusterOf(clusters, 0), clusterOf(clusters, 3))
		assert.Equal(t, clusterOf(clusters, 4), clusterOf(clusters, 7))
		assert.NotEqual(t, clusterOf(clusters, 0), clusterOf(clusters, 4))
	})

	t.Run("non-empty clusters", func(t *testing.T) {
		clusters, err := KMeans(twoBlobs(), ClusterParams{Clusters: 4, Seed: 7})
		require.NoError(t, err)
		require.Len(t, clusters, 4)
		for id, members := range clusters {
			assert.NotEmpty(t, members, "cluster %d", id)
		}
		assertPartition(t, clusters, 8)
	})

	t.Run("deterministic for fixed seed", func(t *testing.T) {
		a, err := KMeans(twoBlobs(), ClusterParams{Clusters: 3, Seed: 42})
		require.NoError(t, err)
		b, err := KMeans(twoBlobs(), ClusterParams{Clusters: 3, Seed: 42})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("random init also partitions", func(t *testing.T) {
		clusters, err := KMeans(twoBlobs(), ClusterParams{Clusters: 2, Seed: 3, RandomInit: true})
		require.NoError(t, err)
		assertPartition(t, clusters, 8)
	})

	t.Run("fewer vectors than clusters", func(t *testing.T) {
		_, err := KMeans([][]float32{{1, 0}}, ClusterParams{Clusters: 2})
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("duplicate points keep all clusters non-empty", func(t *testing.T) {
		same := [][]float32{{1, 1}, {1, 1}, {1, 1}}
		clusters, err := KMeans(same, ClusterParams{Clusters: 3, Seed: 5})
		require.NoError(t, err)
		require.Len(t, clusters, 3)
		assertPartition(t, clusters, 3)
	})
}

func TestDBSCAN(t *testing.T) {
	t.Run("finds dense blobs and noise", func(t *testing.T) {
		points := append(twoBlobs(), []float32{50, -50}) // lone outlier
		clusters, err := DBSCAN(points, ClusterParams{Eps: 0.5, MinSamples: 3})
		require.NoError(t, err)

		assertPartition(t, clusters, 9)
		require.Contains(t, clusters, NoiseCluster)
		assert.Equal(t, []int{8}, clusters[NoiseCluster])

		// Two real clusters plus the noise bucket.
		assert.Len(t, clusters, 3)
	})

	t.Run("noise never joins a real cluster", func(t *testing.T) {
		points := [][]float32{{0, 0}, {0.1, 0}, {0.2, 0}, {9, 9}}
		clusters, err := DBSCAN(points, ClusterParams{Eps: 0.3, MinSamples: 2})
		require.NoError(t, err)
		assert.Equal(t, NoiseCluster, clusterOf(clusters, 3))
	})

	t.Run("eps must be positive", func(t *testing.T) {
		_, err := DBSCAN(twoBlobs(), ClusterParams{Eps: 0})
		assert.ErrorIs(t, err, ErrInvalidParameter)

		_, err = DBSCAN(twoBlobs(), ClusterParams{Eps: -1})
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func TestHierarchical(t *testing.T) {
	linkages := []Linkage{LinkageSingle, LinkageComplete, LinkageAverage, LinkageWard}
	for _, linkage := range linkages {
		t.Run(string(linkage), func(t *testing.T) {
			clusters, err := Hierarchical(twoBlobs(), ClusterParams{Clusters: 2, Linkage: linkage})
			require.NoError(t, err)
			require.Len(t, clusters, 2)
			assertPartition(t, clusters, 8)
			assert.NotEqual(t, clusterOf(clusters, 0), clusterOf(clusters, 4))
		})
	}

	t.Run("default linkage", func(t *testing.T) {
		clusters, err := Hierarchical(twoBlobs(), ClusterParams{Clusters: 3})
		require.NoError(t, err)
		assert.Len(t, clusters, 3)
	})

	t.Run("unknown linkage", func(t *testing.T) {
		_, err := Hierarchical(twoBlobs(), ClusterParams{Clusters: 2, Linkage: "median"})
		assert.ErrorIs(t, err, ErrUnknownMethod)
	})

	t.Run("fewer vectors than clusters", func(t *testing.T) {
		_, err := Hierarchical([][]float32{{1, 0}, {0, 1}}, ClusterParams{Clusters: 3})
		assert.ErrorIs(t, err, ErrInsufficientData)
	})
}

func TestCluster(t *testing.T) {
	t.Run("single vector single cluster for every method", func(t *testing.T) {
		one := [][]float32{{1, 2}}
		for _, method := range []ClusterMethod{MethodKMeans, MethodDBSCAN, MethodHierarchical} {
			clusters, err := Cluster(one, method, ClusterParams{Clusters: 1, Eps: 1, MinSamples: 2})
			require.NoError(t, err, string(method))
			assert.Equal(t, map[int][]int{0: {0}}, clusters, string(method))
		}
	})

	t.Run("unknown method", func(t *testing.T) {
		_, err := Cluster(twoBlobs(), "spectral", ClusterParams{Clusters: 2})
		assert.ErrorIs(t, err, ErrUnknownMethod)
	})

	t.Run("dispatches to kmeans", func(t *testing.T) {
		clusters, err := Cluster(twoBlobs(), MethodKMeans, ClusterParams{Clusters: 2, Seed: 1})
		require.NoError(t, err)
		assert.Len(t, clusters, 2)
	})
}
