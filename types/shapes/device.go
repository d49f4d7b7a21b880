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

// DeviceClass names a family of devices a traced value may live on.
type DeviceClass string

const (
	CPU  DeviceClass = "cpu"
	CUDA DeviceClass = "cuda"
	Meta DeviceClass = "meta"
)

// Device is where a traced value lives: a class plus an ordinal within the
// class. The zero value is not a valid device; use MakeDevice.
type Device struct {
	Class DeviceClass
	Index int
}

// MakeDevice returns a Device of the given class and ordinal.
func MakeDevice(class DeviceClass, index int) Device {
	return Device{Class: class, Index: index}
}

// Ok reports whether the device was initialized.
func (d Device) Ok() bool { return d.Class != "" }

// IsCUDA reports whether the device belongs to the CUDA class.
func (d Device) IsCUDA() bool { return d.Class == CUDA }

// AcceleratorIndex returns the device ordinal for accelerators, and -1 for
// CPU-class devices, matching the convention of Tensor.get_device.
func (d Device) AcceleratorIndex() int {
	if d.Class == CPU {
		return -1
	}
	return d.Index
}

func (d Device) String() string {
	if d.Class == CPU {
		return string(d.Class)
	}
	return fmt.Sprintf("%s:%d", d.Class, d.Index)
}

// Layout tags the storage layout of a traced value. Only Strided values can
// be exchanged with dense array code.
type Layout byte

const (
	Strided Layout = iota
	SparseCOO
	SparseCSR
	Jagged
)

var layoutNames = [...]string{"strided", "sparse_coo", "sparse_csr", "jagged"}

func (l Layout) String() string {
	if int(l) >= len(layoutNames) {
		return fmt.Sprintf("Layout(%d)", l)
	}
	return layoutNames[l]
}
