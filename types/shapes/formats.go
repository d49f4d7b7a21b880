/*
 *	Copyright 2024 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package shapes

import "fmt"

// MemoryFormat tags a recognized memory layout a strided value may satisfy.
type MemoryFormat byte

const (
	// ContiguousFormat is the dense row-major layout, the default for
	// contiguity queries.
	ContiguousFormat MemoryFormat = iota

	// ChannelsLast is the NHWC layout of rank-4 values.
	ChannelsLast

	// ChannelsLast3D is the NDHWC layout of rank-5 values.
	ChannelsLast3D

	// PreserveFormat is a request marker ("keep whatever the input has"), it
	// is never *satisfied* by a concrete layout.
	PreserveFormat
)

var memoryFormatNames = [...]string{"contiguous_format", "channels_last", "channels_last_3d", "preserve_format"}

func (f MemoryFormat) String() string {
	if int(f) >= len(memoryFormatNames) {
		return fmt.Sprintf("MemoryFormat(%d)", f)
	}
	return memoryFormatNames[f]
}

// checkedFormats are the formats SatisfiedFormats probes.
var checkedFormats = []MemoryFormat{ContiguousFormat, ChannelsLast, ChannelsLast3D}

// FormatSet is the set of memory formats a value satisfies, or an explicit
// unknown: contiguity of values under a batching transform cannot be
// computed, and consumers must not guess.
type FormatSet struct {
	known   bool
	formats []MemoryFormat
}

// MakeFormatSet returns a known set with the given formats.
func MakeFormatSet(formats ...MemoryFormat) FormatSet {
	return FormatSet{known: true, formats: formats}
}

// UnknownFormats returns the unknown sentinel.
func UnknownFormats() FormatSet { return FormatSet{} }

// Known reports whether contiguity was computed at all.
func (fs FormatSet) Known() bool { return fs.known }

// Contains reports whether format is in the set. An unknown set contains
// nothing.
func (fs FormatSet) Contains(format MemoryFormat) bool {
	for _, f := range fs.formats {
		if f == format {
			return true
		}
	}
	return false
}

func (fs FormatSet) String() string {
	if !fs.known {
		return "unknown"
	}
	return fmt.Sprintf("%v", fs.formats)
}

// SatisfiedFormats computes the set of memory formats a static layout
// satisfies. Both slices must have the same length.
func SatisfiedFormats(dims, strides []int64) FormatSet {
	var satisfied []MemoryFormat
	for _, format := range checkedFormats {
		if satisfiesFormat(format, dims, strides) {
			satisfied = append(satisfied, format)
		}
	}
	return FormatSet{known: true, formats: satisfied}
}

func satisfiesFormat(format MemoryFormat, dims, strides []int64) bool {
	switch format {
	case ContiguousFormat:
		return stridesMatch(dims, strides, denseOrder(len(dims)))
	case ChannelsLast:
		if len(dims) != 4 {
			return false
		}
		// NCHW dims laid out in N, H, W, C memory order.
		return stridesMatch(dims, strides, []int{0, 2, 3, 1})
	case ChannelsLast3D:
		if len(dims) != 5 {
			return false
		}
		return stridesMatch(dims, strides, []int{0, 2, 3, 4, 1})
	}
	return false
}

func denseOrder(rank int) []int {
	order := make([]int, rank)
	for i := range order {
		order[i] = i
	}
	return order
}

// stridesMatch checks strides against the dense layout that walks axes in
// the given memory order, outermost first. Axes of extent 1 impose no
// constraint.
func stridesMatch(dims, strides []int64, order []int) bool {
	expected := int64(1)
	for i := len(order) - 1; i >= 0; i-- {
		axis := order[i]
		if dims[axis] != 1 && strides[axis] != expected {
			return false
		}
		expected *= dims[axis]
	}
	return true
}
