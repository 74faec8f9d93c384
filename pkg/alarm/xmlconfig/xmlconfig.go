// Copyright 2025 UMH Systems GmbH
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

// Package xmlconfig reads alarm configurations in the XML export format
// and publishes them item by item.
package xmlconfig

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/client"
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/model"
)

type titleDetail struct {
	Title   string `xml:"title"`
	Details string `xml:"details"`
}

type automatedAction struct {
	Title   string `xml:"title"`
	Details string `xml:"details"`
	Delay   string `xml:"delay"`
}

// common holds the elements shared by components and PVs.
type common struct {
	Name     *string           `xml:"name,attr"`
	Guidance []titleDetail     `xml:"guidance"`
	Displays []titleDetail     `xml:"display"`
	Commands []titleDetail     `xml:"command"`
	Actions  []automatedAction `xml:"automated_action"`
}

type pv struct {
	common
	Description  *string `xml:"description"`
	Enabled      *string `xml:"enabled"`
	Latching     *string `xml:"latching"`
	Annunciating *string `xml:"annunciating"`
	Delay        string  `xml:"delay"`
	Count        *string `xml:"count"`
	Filter       *string `xml:"filter"`
}

type component struct {
	common
	PVs        []pv        `xml:"pv"`
	Components []component `xml:"component"`
}

type document struct {
	XMLName xml.Name `xml:"config"`
	component
}

type reader struct {
	// pvs maps each PV name to the path of its first occurrence.
	pvs map[string]string
}

// Load parses a configuration into a detached tree. The root is named
// after the config element. A PV that appears more than once is only kept
// where it is read first. Items are read depth-first, and the PVs of a
// component come before its sub-components.
func Load(r io.Reader) (*model.Node, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("cannot parse alarm configuration: %w", err)
	}
	if doc.Name == nil || *doc.Name == "" {
		return nil, errors.New("config without name")
	}

	root := model.NewInterior(*doc.Name)
	rd := &reader{pvs: make(map[string]string)}
	if err := rd.fill(root, &doc.component); err != nil {
		return nil, err
	}
	return root, nil
}

// LoadFile parses the configuration stored in filename.
func LoadFile(filename string) (*model.Node, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// fill adds the PVs of c to node first, then its sub-components.
func (rd *reader) fill(node *model.Node, c *component) error {
	config, err := itemConfig(&c.common)
	if err != nil {
		return fmt.Errorf("%s: %w", node.PathName(), err)
	}
	node.SetConfig(config)

	for i := range c.PVs {
		if err := rd.addPV(node, &c.PVs[i]); err != nil {
			return err
		}
	}
	for i := range c.Components {
		sub := &c.Components[i]
		if sub.Name == nil || *sub.Name == "" {
			return fmt.Errorf("component without name at %s", node.PathName())
		}
		child := model.NewInterior(*sub.Name)
		if err := node.AddChild(child); err != nil {
			return fmt.Errorf("component %s at %s: %w", *sub.Name, node.PathName(), err)
		}
		if err := rd.fill(child, sub); err != nil {
			return err
		}
	}
	return nil
}

func (rd *reader) addPV(parent *model.Node, p *pv) error {
	if p.Name == nil || *p.Name == "" {
		return fmt.Errorf("PV without name at %s", parent.PathName())
	}
	name := *p.Name
	if parent.Child(name) != nil {
		return fmt.Errorf("PV with duplicate name %s at %s", name, parent.PathName())
	}
	if existing, ok := rd.pvs[name]; ok {
		zap.S().Warnf("Ignoring duplicate PV %s/%s, already at %s", parent.PathName(), name, existing)
		return nil
	}
	rd.pvs[name] = parent.PathName()

	leaf := model.NewLeaf(name)
	config, err := itemConfig(&p.common)
	if err != nil {
		return fmt.Errorf("%s/%s: %w", parent.PathName(), name, err)
	}
	leaf.SetConfig(config)

	// Older exports only wrote these when they differed from
	// enabled=true, latching=false, annunciating=false.
	settings := model.LeafConfig{
		PV:           name,
		Enabled:      parseBool(p.Enabled, true),
		Latching:     parseBool(p.Latching, false),
		Annunciating: parseBool(p.Annunciating, false),
		Delay:        parseDelay(p.Delay),
	}
	if p.Description != nil {
		settings.Description = strings.TrimSpace(*p.Description)
	}
	if p.Filter != nil {
		settings.Filter = strings.TrimSpace(*p.Filter)
	}
	if p.Count != nil {
		count, err := strconv.Atoi(strings.TrimSpace(*p.Count))
		if err != nil {
			return fmt.Errorf("%s/%s: invalid count: %w", parent.PathName(), name, err)
		}
		settings.Count = count
	}
	leaf.SetLeafConfig(settings)

	return parent.AddChild(leaf)
}

func itemConfig(c *common) (model.ItemConfig, error) {
	config := model.ItemConfig{
		Guidance: titleDetails(c.Guidance),
		Displays: titleDetails(c.Displays),
		Commands: titleDetails(c.Commands),
	}
	for _, action := range c.Actions {
		delay := 0
		if text := strings.TrimSpace(action.Delay); text != "" {
			var err error
			if delay, err = strconv.Atoi(text); err != nil {
				return model.ItemConfig{}, fmt.Errorf("invalid delay of action %q: %w", action.Title, err)
			}
		}
		config.Actions = append(config.Actions, model.TitleDetailDelay{
			Title:  strings.TrimSpace(action.Title),
			Detail: strings.TrimSpace(action.Details),
			Delay:  delay,
		})
	}
	return config, nil
}

func titleDetails(entries []titleDetail) []model.TitleDetail {
	if len(entries) == 0 {
		return nil
	}
	result := make([]model.TitleDetail, len(entries))
	for i, entry := range entries {
		result[i] = model.TitleDetail{Title: strings.TrimSpace(entry.Title), Detail: strings.TrimSpace(entry.Details)}
	}
	return result
}

func parseBool(text *string, fallback bool) bool {
	if text == nil {
		return fallback
	}
	return strings.EqualFold(strings.TrimSpace(*text), "true")
}

// parseDelay accepts fractional seconds and truncates them. Anything
// unparsable means no delay.
func parseDelay(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	delay, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0
	}
	return int(delay)
}

// Publish sends every item of root, parents before children, and returns
// how many were sent. It stops at the first failure.
func Publish(ctx context.Context, publisher client.Publisher, root *model.Node) (int, error) {
	var items []*model.Node
	root.Walk(func(node *model.Node, _ int) bool {
		items = append(items, node)
		return true
	})

	for i, item := range items {
		if err := publisher.SendItemConfigurationUpdate(ctx, item.PathName(), item); err != nil {
			return i, fmt.Errorf("cannot publish %s: %w", item.PathName(), err)
		}
	}
	return len(items), nil
}
