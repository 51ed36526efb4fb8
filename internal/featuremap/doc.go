// Package featuremap loads the feature to daemon mapping that tells diagdump
// which daemons take part in a feature's diagnostic dump.
//
// The mapping file is YAML. It is read as a stream of scalars in document
// order: the keys feature_name, feature_desc, daemon, name and diag_dump
// switch the parse state and every other scalar is a value for the current
// state. The canonical layout is
//
//	---
//	  -
//	    feature_name: "lldp"
//	    feature_desc: "Link Layer Discovery Protocol"
//	    daemon:
//	      - [name: "ops-lldpd", "diag_dump":"y"]
//
// Resolution rules:
//   - names are cut to 30 characters, descriptions to 100
//   - a daemon is diagnosable only when its diag_dump value is "y"
//   - a feature is diagnosable when any of its daemons is
//   - any structural problem fails the whole load; no partial table is kept
//
// A Resolver resolves the file once per process and caches the result.
package featuremap
