package elastic

import (
	"embed"
)

//go:embed resources/*.json
var resources embed.FS

// BuildSettings are applied when the index is created: no refresh and no
// replicas while it is being loaded.
func BuildSettings() []byte {
	return mustRead("resources/settings_build.json")
}

// ServingSettings restore refresh and replication before the alias swap.
func ServingSettings() []byte {
	return mustRead("resources/settings_serving.json")
}

// Mapping returns the dataset index mapping.
func Mapping() []byte {
	return mustRead("resources/mapping.json")
}

func mustRead(name string) []byte {
	data, err := resources.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return data
}
