package config

import (
	yaml "gopkg.in/yaml.v2"
)

// Example renders a starting config file with the commonly set keys in
// reading order. MapSlice keeps the keys from being alphabetized.
func Example() ([]byte, error) {
	doc := yaml.MapSlice{
		{Key: "src_api_key_env_var", Value: "COGNITE_SOURCE_API_KEY"},
		{Key: "dst_api_key_env_var", Value: "COGNITE_DESTINATION_API_KEY"},
		{Key: "src_project", Value: "source-project"},
		{Key: "dst_project", Value: "destination-project"},
		{Key: "resources", Value: []string{"assets", "events", "timeseries"}},
		{Key: "batch_size", Value: 10000},
		{Key: "number_of_threads", Value: 10},
		{Key: "client_timeout", Value: "120s"},
		{Key: "delete_if_removed_in_source", Value: false},
		{Key: "delete_if_not_replicated", Value: false},
		{Key: "log_path", Value: "log"},
		{Key: "log_level", Value: "info"},
		{Key: "events", Value: yaml.MapSlice{
			{Key: "exclude_pattern", Value: ""},
		}},
		{Key: "timeseries", Value: yaml.MapSlice{
			{Key: "exclude_pattern", Value: ""},
			{Key: "exclude_fields", Value: []string{}},
		}},
	}
	return yaml.Marshal(doc)
}
