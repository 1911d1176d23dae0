// Command meshcmp decodes, aligns and compares triangle meshes.
//
//	meshcmp inspect part.stl
//	meshcmp align nominal.stl scan.obj --out aligned.stl
//	meshcmp distance nominal.stl aligned.stl
//	meshcmp run session.lisp
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
