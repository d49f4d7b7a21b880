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

import "github.com/gomlx/gopjrt/dtypes"

// legacyTypeNames maps a dtype to the legacy tensor-type name used by the
// zero-argument form of Tensor.type().
var legacyTypeNames = map[dtypes.DType]string{
	dtypes.Float32:    "FloatTensor",
	dtypes.Float64:    "DoubleTensor",
	dtypes.Float16:    "HalfTensor",
	dtypes.BFloat16:   "BFloat16Tensor",
	dtypes.Int64:      "LongTensor",
	dtypes.Int32:      "IntTensor",
	dtypes.Int16:      "ShortTensor",
	dtypes.Int8:       "CharTensor",
	dtypes.Uint8:      "ByteTensor",
	dtypes.Bool:       "BoolTensor",
	dtypes.Complex64:  "ComplexFloatTensor",
	dtypes.Complex128: "ComplexDoubleTensor",
}

// LegacyTypeName maps a (dtype, device) pair to its canonical legacy type
// name, e.g. (Float32, cpu) -> "torch.FloatTensor" and (Float32, cuda:0) ->
// "torch.cuda.FloatTensor". The second result is false for dtypes with no
// legacy name.
func LegacyTypeName(dtype dtypes.DType, device Device) (string, bool) {
	name, ok := legacyTypeNames[dtype]
	if !ok {
		return "", false
	}
	if device.IsCUDA() {
		return "torch.cuda." + name, true
	}
	return "torch." + name, true
}
