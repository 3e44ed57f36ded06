package distance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"

	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/ports"
)

// The public ORS matrix endpoint accepts at most 50 locations per call;
// one of them is the origin.
const maxMatrixDestinations = 49

type matrixRequest struct {
	Locations    [][]float64 `json:"locations"`
	Destinations []int       `json:"destinations"`
	Metrics      []string    `json:"metrics"`
	Sources      []int       `json:"sources"`
}

type matrixResponse struct {
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

// fetchMatrixRow resolves one origin against many destinations, splitting
// the destinations into calls the endpoint accepts. Destinations ORS has
// no route to are returned in unreachable instead of failing the row.
func (o *ORSDistanceProvider) fetchMatrixRow(
	ctx context.Context,
	originCoord domain.Coordinates,
	destinations []string,
	destinationCoords []domain.Coordinates,
) (results map[string]ports.DistanceResult, unreachable []string, err error) {
	if len(destinations) != len(destinationCoords) {
		return nil, nil, errors.New("destinations and destinationCoords are expected to have the same length")
	}

	results = make(map[string]ports.DistanceResult, len(destinations))
	for start := 0; start < len(destinations); start += maxMatrixDestinations {
		end := min(start+maxMatrixDestinations, len(destinations))

		row, err := o.fetchMatrixChunk(ctx, originCoord, destinationCoords[start:end])
		if err != nil {
			return nil, nil, err
		}

		for i, dest := range destinations[start:end] {
			if row[i] == nil {
				unreachable = append(unreachable, dest)
				continue
			}
			results[dest] = *row[i]
		}
	}
	return results, unreachable, nil
}

// fetchMatrixChunk issues one matrix call. The returned slice is aligned
// with coords; nil marks a destination without a route.
func (o *ORSDistanceProvider) fetchMatrixChunk(
	ctx context.Context,
	origin domain.Coordinates,
	coords []domain.Coordinates,
) ([]*ports.DistanceResult, error) {
	endpoint := fmt.Sprintf("%s/v2/matrix/%s", o.baseURL, o.profile)

	locations := make([][]float64, 0, 1+len(coords))
	locations = append(locations, origin.CoordsToList())
	destIdx := make([]int, 0, len(coords))
	for i, c := range coords {
		locations = append(locations, c.CoordsToList())
		destIdx = append(destIdx, i+1)
	}

	payload, err := json.Marshal(matrixRequest{
		Locations:    locations,
		Destinations: destIdx,
		Metrics:      []string{"distance", "duration"},
		Sources:      []int{0},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal matrix request: %w", err)
	}

	resp, err := o.doWithRetry(ctx, func() (*http.Request, error) {
		return o.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	})
	if err != nil {
		return nil, fmt.Errorf("matrix request failed: %w", err)
	}
	defer resp.Body.Close()

	var mr matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("decode matrix response: %w", err)
	}
	if len(mr.Distances) != 1 || len(mr.Durations) != 1 {
		return nil, fmt.Errorf(
			"expected 1 source row; got distances=%d durations=%d",
			len(mr.Distances), len(mr.Durations),
		)
	}

	distances, durations := mr.Distances[0], mr.Durations[0]
	if len(distances) != len(coords) || len(durations) != len(coords) {
		return nil, fmt.Errorf(
			"row lengths do not match destinations: distances=%d durations=%d destinations=%d",
			len(distances), len(durations), len(coords),
		)
	}

	out := make([]*ports.DistanceResult, len(coords))
	for i := range coords {
		if distances[i] == nil || durations[i] == nil {
			continue
		}
		// ORS returns float metrics; round to whole meters and seconds.
		out[i] = &ports.DistanceResult{
			DistanceMeters:  int(math.Round(*distances[i])),
			DurationSeconds: int(math.Round(*durations[i])),
		}
	}
	return out, nil
}
