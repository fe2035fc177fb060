package crust

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

const Version = "1.0.0"

func randomHex(length int) string {
	if length <= 0 {
		return ""
	}

	buf := make([]byte, length)

	_, err := rand.Read(buf)
	if err != nil {
		return ""
	}

	return hex.EncodeToString(buf)
}

func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))

	return hex.EncodeToString(sum[:])
}

// returnRangeInt32 converts a string like 0-4,6-7 to [0,1,2,3,4,6,7]. Ids
// outside [0, max) are skipped.
func returnRangeInt32(rangeString string, max int32) (result []int32) {
	for _, split := range strings.Split(rangeString, ",") {
		split = strings.TrimSpace(split)
		if split == "" {
			continue
		}

		ranges := strings.Split(split, "-")

		low, err := strconv.Atoi(strings.TrimSpace(ranges[0]))
		if err != nil {
			continue
		}

		hi, err := strconv.Atoi(strings.TrimSpace(ranges[len(ranges)-1]))
		if err != nil {
			continue
		}

		for i := int32(low); i <= int32(hi); i++ {
			if 0 <= i && i < max {
				result = append(result, i)
			}
		}
	}

	return result
}

// filterNode keeps the ids owned by nodeID when shards are split over
// nodeCount nodes.
func filterNode(shardIDs []int32, nodeCount, nodeID int32) []int32 {
	if nodeCount <= 1 {
		return shardIDs
	}

	filtered := make([]int32, 0, len(shardIDs))

	for _, id := range shardIDs {
		if id%nodeCount == nodeID {
			filtered = append(filtered, id)
		}
	}

	return filtered
}
