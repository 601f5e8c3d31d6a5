// Copyright 2024 The cutout.io Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GenerateConfig writes opt as a commented yaml document, one key per option.
// Keys come from the json tag, comments from the description tag.
func GenerateConfig(w io.Writer, opt interface{}) error {
	root := getYamlNode(opt)
	o, err := yaml.Marshal(root)
	if err != nil {
		return err
	}
	_, err = w.Write(o)
	return err
}

func getYamlNode(v interface{}) *yaml.Node {
	node := &yaml.Node{}
	vv := reflect.ValueOf(v)
	if d, ok := v.(time.Duration); ok {
		node.Kind = yaml.ScalarNode
		node.Value = d.String()
		return node
	}
	switch vv.Kind() {
	case reflect.Ptr:
		if vv.IsNil() {
			node.Kind = yaml.ScalarNode
			node.Value = "null"
			return node
		}
		node = getYamlNode(vv.Elem().Interface())
	case reflect.Map:
		node.Kind = yaml.MappingNode
		nodes := []*yaml.Node{}
		for _, k := range vv.MapKeys() {
			nodes = append(nodes, &yaml.Node{
				Kind:  yaml.ScalarNode,
				Value: fmt.Sprintf("%v", k.Interface()),
			})
			nodes = append(nodes, getYamlNode(vv.MapIndex(k).Interface()))
		}
		node.Content = nodes
	case reflect.Array, reflect.Slice:
		nodes := []*yaml.Node{}
		for idx := 0; idx < vv.Len(); idx++ {
			nodes = append(nodes, getYamlNode(vv.Index(idx).Interface()))
		}
		node.Kind = yaml.SequenceNode
		node.Content = nodes
	case reflect.Struct:
		node.Kind = yaml.MappingNode
		nodes := []*yaml.Node{}
		t := vv.Type()
		for idx := 0; idx < t.NumField(); idx++ {
			field := t.Field(idx)
			if !vv.Field(idx).CanInterface() {
				continue
			}
			fieldname := strings.Split(field.Tag.Get("json"), ",")[0]
			if fieldname == "-" {
				continue
			}
			if fieldname == "" {
				fieldname = strings.ToLower(field.Name)
			}
			nodes = append(nodes, &yaml.Node{
				Kind:        yaml.ScalarNode,
				Value:       fieldname,
				LineComment: field.Tag.Get("description"),
			})
			nodes = append(nodes, getYamlNode(vv.Field(idx).Interface()))
		}
		node.Content = nodes
	default:
		node.Kind = yaml.ScalarNode
		node.Value = fmt.Sprintf("%v", vv.Interface())
	}
	return node
}
