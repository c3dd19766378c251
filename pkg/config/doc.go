// Package config loads the scenepipe configuration file.
//
// The file is YAML (scenepipe.yaml) and is decoded on top of Default, so it only needs
// the keys that differ from the reference workstation. Unknown keys are rejected and
// the result is validated with struct tags.
//
//	workspace:
//	  root: /opt/drawer
//	launcher:
//	  kind: conda
//	environments:
//	  sdf: drawer_sdf
//	  splat: drawer_splat
//	  sim: isaacsim
//	toolchain:
//	  cc: /usr/bin/gcc-11
//	  cxx: /usr/bin/g++-11
//	  cuda_arch_list: "8.6"
//	defaults:
//	  downscale_factor: 2
//	  camera_model: auto
//
// Every error returned by Load is an engine configuration error.
package config
