package analyzer

import (
	"math"
	"sort"

	"github.com/t77yq/maintenance-agent/internal/model"
)

const (
	clusterCount    = 2
	kmeansMaxIter   = 100
	pctDiffMinBase  = 0.001
	ClusterHighRisk = 1
	ClusterBaseline = 0
)

// MachineFeatures is the per-machine feature vector used for clustering.
type MachineFeatures struct {
	MachineNumber   string  `json:"machine_number"`
	MachineType     string  `json:"machine_type"`
	FailureCount    int     `json:"failure_count"`
	AgeYears        float64 `json:"age_years"`
	DowntimeMinutes float64 `json:"downtime_minutes"`
	Cluster         int     `json:"cluster"`
}

// ClusterSummary describes one cluster. Percent differences are relative to cluster 0.
type ClusterSummary struct {
	Cluster            int     `json:"cluster"`
	MachineCount       int     `json:"machine_count"`
	AvgFailureCount    float64 `json:"avg_failure_count"`
	AvgAgeYears        float64 `json:"avg_age_years"`
	AvgDowntimeMinutes float64 `json:"avg_downtime_minutes"`
	PerformanceScore   float64 `json:"performance_score"`
	PctDiffFailure     float64 `json:"pct_diff_failure"`
	PctDiffDowntime    float64 `json:"pct_diff_downtime"`
}

// ClusterAnalysis splits machines into a baseline cluster (0) and a
// high-risk cluster (1).
type ClusterAnalysis struct {
	Machines []MachineFeatures `json:"machines"`
	Clusters []ClusterSummary  `json:"clusters"`
	Excluded int               `json:"excluded_without_age"`
}

// BaselineDowntimePerFailure is the baseline cluster's total downtime over
// its total failures, 0 when it has no failures.
func (a *ClusterAnalysis) BaselineDowntimePerFailure() float64 {
	var downtime float64
	var failures int
	for _, m := range a.Machines {
		if m.Cluster == ClusterBaseline {
			downtime += m.DowntimeMinutes
			failures += m.FailureCount
		}
	}
	if failures == 0 {
		return 0
	}
	return downtime / float64(failures)
}

// HighRisk returns the machines assigned to the high-risk cluster.
func (a *ClusterAnalysis) HighRisk() []MachineFeatures {
	var out []MachineFeatures
	for _, m := range a.Machines {
		if m.Cluster == ClusterHighRisk {
			out = append(out, m)
		}
	}
	return out
}

// ClusterMachines builds failure count, age and downtime features per machine
// and splits them with k-means (k=2) on standardized features. Machines with
// unknown age are excluded. Labels are canonical: cluster 1 has the higher
// average failure count plus downtime.
func ClusterMachines(records []model.MaintenanceRecord) (*ClusterAnalysis, error) {
	byMachine := make(map[string]*MachineFeatures)
	hasAge := make(map[string]bool)
	for _, r := range records {
		if r.MachineNumber == "" {
			continue
		}
		f, ok := byMachine[r.MachineNumber]
		if !ok {
			f = &MachineFeatures{MachineNumber: r.MachineNumber, MachineType: r.MachineType}
			byMachine[r.MachineNumber] = f
		}
		f.FailureCount++
		f.DowntimeMinutes += r.DowntimeMinutes
		if !hasAge[r.MachineNumber] && r.MachineAgeYears != nil {
			f.AgeYears = *r.MachineAgeYears
			hasAge[r.MachineNumber] = true
		}
	}

	analysis := &ClusterAnalysis{}
	for _, num := range sortedKeys(byMachine) {
		if !hasAge[num] {
			analysis.Excluded++
			continue
		}
		analysis.Machines = append(analysis.Machines, *byMachine[num])
	}
	if len(analysis.Machines) < clusterCount {
		return nil, model.NewError(model.KindInsufficientData, "cluster_machines",
			"need at least %d machines with a known age, got %d", clusterCount, len(analysis.Machines))
	}

	cols := [3][]float64{}
	for _, m := range analysis.Machines {
		cols[0] = append(cols[0], float64(m.FailureCount))
		cols[1] = append(cols[1], m.AgeYears)
		cols[2] = append(cols[2], m.DowntimeMinutes)
	}
	for i := range cols {
		cols[i], _, _ = ZScores(cols[i])
	}
	points := make([][]float64, len(analysis.Machines))
	for i := range points {
		points[i] = []float64{cols[0][i], cols[1][i], cols[2][i]}
	}

	labels := KMeans(points, clusterCount, kmeansMaxIter)
	for i := range analysis.Machines {
		analysis.Machines[i].Cluster = labels[i]
	}

	analysis.Clusters = summarizeClusters(analysis.Machines)
	if len(analysis.Clusters) == clusterCount && analysis.Clusters[1].PerformanceScore < analysis.Clusters[0].PerformanceScore {
		for i := range analysis.Machines {
			analysis.Machines[i].Cluster = 1 - analysis.Machines[i].Cluster
		}
		analysis.Clusters = summarizeClusters(analysis.Machines)
	}
	return analysis, nil
}

func summarizeClusters(machines []MachineFeatures) []ClusterSummary {
	sums := make(map[int]*ClusterSummary)
	for _, m := range machines {
		s, ok := sums[m.Cluster]
		if !ok {
			s = &ClusterSummary{Cluster: m.Cluster}
			sums[m.Cluster] = s
		}
		s.MachineCount++
		s.AvgFailureCount += float64(m.FailureCount)
		s.AvgAgeYears += m.AgeYears
		s.AvgDowntimeMinutes += m.DowntimeMinutes
	}

	out := make([]ClusterSummary, 0, len(sums))
	for _, s := range sums {
		n := float64(s.MachineCount)
		s.AvgFailureCount /= n
		s.AvgAgeYears /= n
		s.AvgDowntimeMinutes /= n
		s.PerformanceScore = s.AvgFailureCount + s.AvgDowntimeMinutes
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cluster < out[j].Cluster })

	if len(out) > 0 && out[0].Cluster == ClusterBaseline {
		base := out[0]
		for i := range out {
			out[i].PctDiffFailure = 100 * (out[i].AvgFailureCount - base.AvgFailureCount) / math.Max(base.AvgFailureCount, pctDiffMinBase)
			out[i].PctDiffDowntime = 100 * (out[i].AvgDowntimeMinutes - base.AvgDowntimeMinutes) / math.Max(base.AvgDowntimeMinutes, pctDiffMinBase)
		}
	}
	return out
}

// KMeans clusters points into k groups with Lloyd's algorithm. Initialization
// is deterministic: the first centroid is the point with the smallest
// coordinate sum, each next one the point farthest from its nearest centroid.
func KMeans(points [][]float64, k, maxIter int) []int {
	labels := make([]int, len(points))
	if len(points) == 0 || k <= 1 {
		return labels
	}
	if k > len(points) {
		k = len(points)
	}

	centroids := initCentroids(points, k)
	for i := range labels {
		labels[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			best := nearest(p, centroids)
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		dim := len(points[0])
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, p := range points {
			counts[labels[i]]++
			for d, v := range p {
				sums[labels[i]][d] += v
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}
	}
	return labels
}

func initCentroids(points [][]float64, k int) [][]float64 {
	first := 0
	firstSum := math.Inf(1)
	for i, p := range points {
		s := 0.0
		for _, v := range p {
			s += v
		}
		if s < firstSum {
			first, firstSum = i, s
		}
	}

	centroids := [][]float64{clonePoint(points[first])}
	for len(centroids) < k {
		far, farDist := 0, -1.0
		for i, p := range points {
			d := sqDist(p, centroids[nearest(p, centroids)])
			if d > farDist {
				far, farDist = i, d
			}
		}
		centroids = append(centroids, clonePoint(points[far]))
	}
	return centroids
}

func nearest(p []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(p, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func clonePoint(p []float64) []float64 {
	out := make([]float64, len(p))
	copy(out, p)
	return out
}
