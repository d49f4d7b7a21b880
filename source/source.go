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

// Package source represents provenance: expressions that recreate the
// original runtime binding of a traced value.
//
// A Source renders to an expression evaluable against the frame's bindings
// (e.g. `L["x"].weight`). Values created inside the traced region have no
// Source. Guards -- predicates checked before a compiled trace is reused --
// are built from Sources.
package source

import "fmt"

// Source is a recreatable reference to a runtime binding.
type Source interface {
	// Render returns the expression that re-evaluates the binding.
	Render() string
}

// LocalSource refers to a local binding of the traced frame.
type LocalSource struct {
	Name string
}

// Local returns a Source for the frame-local binding name.
func Local(name string) LocalSource { return LocalSource{Name: name} }

func (s LocalSource) Render() string { return fmt.Sprintf("L[%q]", s.Name) }

// GlobalSource refers to a global binding visible to the traced frame.
type GlobalSource struct {
	Name string
}

// Global returns a Source for the global binding name.
func Global(name string) GlobalSource { return GlobalSource{Name: name} }

func (s GlobalSource) Render() string { return fmt.Sprintf("G[%q]", s.Name) }

// AttrSource projects an attribute of another Source.
type AttrSource struct {
	Base Source
	Name string
}

// Attr returns the attribute projection base.<name>.
func Attr(base Source, name string) AttrSource {
	return AttrSource{Base: base, Name: name}
}

func (s AttrSource) Render() string {
	return fmt.Sprintf("%s.%s", s.Base.Render(), s.Name)
}

// Guard is a predicate over sources that must hold for a compiled trace to
// be reused. Guards render to evaluable expressions; installing the same
// guard twice is a no-op at the installer.
type Guard interface {
	// Render returns the predicate expression.
	Render() string
}

// TypeMatchGuard requires the binding to still have the recorded runtime
// class. Type-match guards are checked before any attribute guard derived
// from the same binding.
type TypeMatchGuard struct {
	Source Source
	Class  string
}

func (g TypeMatchGuard) Render() string {
	return fmt.Sprintf("type(%s) is %s", g.Source.Render(), g.Class)
}

// HasAttrGuard requires the binding to expose the named attribute.
type HasAttrGuard struct {
	Source Source
	Name   string
}

func (g HasAttrGuard) Render() string {
	return fmt.Sprintf("hasattr(%s, %q)", g.Source.Render(), g.Name)
}

// SymbolGuard pins a symbolic scalar to the concrete value observed on the
// example inputs.
type SymbolGuard struct {
	Symbol string
	Value  int64
}

func (g SymbolGuard) Render() string {
	return fmt.Sprintf("%s == %d", g.Symbol, g.Value)
}
