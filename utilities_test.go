package crust

import (
	"reflect"
	"testing"
)

func TestReturnRangeInt32(t *testing.T) {
	rangeString := "0-4,6-7"
	max := int32(8)
	expected := []int32{0, 1, 2, 3, 4, 6, 7}

	result := returnRangeInt32(rangeString, max)

	if !reflect.DeepEqual(result, expected) {
		t.Errorf("Expected %v, but got %v", expected, result)
	}
}

func TestReturnRangeInt32Single(t *testing.T) {
	rangeString := "0"
	max := int32(8)
	expected := []int32{0}

	result := returnRangeInt32(rangeString, max)

	if !reflect.DeepEqual(result, expected) {
		t.Errorf("Expected %v, but got %v", expected, result)
	}
}

func TestReturnRangeInt32Empty(t *testing.T) {
	result := returnRangeInt32("", 8)

	if len(result) != 0 {
		t.Errorf("Expected no ids, but got %v", result)
	}
}

func TestReturnRangeInt32OutOfRange(t *testing.T) {
	rangeString := "0-4,6-7,8, x-2"
	max := int32(8)
	expected := []int32{0, 1, 2, 3, 4, 6, 7}

	result := returnRangeInt32(rangeString, max)

	if !reflect.DeepEqual(result, expected) {
		t.Errorf("Expected %v, but got %v", expected, result)
	}
}

func TestFilterNode(t *testing.T) {
	shardIDs := []int32{0, 1, 2, 3, 4, 5}

	if result := filterNode(shardIDs, 0, 0); !reflect.DeepEqual(result, shardIDs) {
		t.Errorf("Expected %v, but got %v", shardIDs, result)
	}

	expected := []int32{2, 5}

	if result := filterNode(shardIDs, 3, 2); !reflect.DeepEqual(result, expected) {
		t.Errorf("Expected %v, but got %v", expected, result)
	}
}

func TestRandomHex(t *testing.T) {
	length := 16
	result := randomHex(length)
	if len(result) != length*2 {
		t.Errorf("Expected length %d, but got %d", length*2, len(result))
	}
}

func TestRandomHexNegativeLength(t *testing.T) {
	result := randomHex(-10)

	if len(result) != 0 {
		t.Errorf("Expected length 0, but got %d", len(result))
	}
}

func TestTokenHash(t *testing.T) {
	if tokenHash("a") == tokenHash("b") {
		t.Errorf("Expected different hashes")
	}

	if len(tokenHash("a")) != 64 {
		t.Errorf("Expected a hex sha256, but got %q", tokenHash("a"))
	}
}
