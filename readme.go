package xenocorpus

import _ "embed"

// Readme is served as the API description
//
//go:embed README.md
var Readme string
