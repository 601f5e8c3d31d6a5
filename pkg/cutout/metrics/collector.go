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

package metrics

import (
	"context"

	"cutout.io/cutout/pkg/jobstore"
	"cutout.io/cutout/pkg/log"
	"cutout.io/cutout/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cutout"

// SnapshotCollector exports the latest stored snapshot.
type SnapshotCollector struct {
	store jobstore.EventStore
	descs map[string]*prometheus.Desc
}

var snapshotFields = []struct {
	name  string
	help  string
	value func(m *models.Metric) int64
}{
	{"jobs_run", "Jobs finished during the last collection period", func(m *models.Metric) int64 { return m.JobsRun }},
	{"jobs_success", "Jobs succeeded during the last collection period", func(m *models.Metric) int64 { return m.JobsSuccess }},
	{"jobs_failure", "Jobs failed during the last collection period", func(m *models.Metric) int64 { return m.JobsFailure }},
	{"users_count", "Known users", func(m *models.Metric) int64 { return m.UsersCount }},
	{"users_active", "Users that ran jobs during the last collection period", func(m *models.Metric) int64 { return m.UsersActive }},
	{"job_files_added", "Job files added during the last collection period", func(m *models.Metric) int64 { return m.JobFilesAdded }},
	{"job_files_added_bytes", "Size of the job files added during the last collection period", func(m *models.Metric) int64 { return m.JobFilesAddedSize }},
	{"job_files_total", "Stored job files", func(m *models.Metric) int64 { return m.JobFilesTotal }},
	{"job_files_bytes", "Size of the stored job files", func(m *models.Metric) int64 { return m.JobFilesSize }},
}

func NewSnapshotCollector(store jobstore.EventStore) *SnapshotCollector {
	c := &SnapshotCollector{store: store, descs: map[string]*prometheus.Desc{}}
	for _, f := range snapshotFields {
		c.descs[f.name] = prometheus.NewDesc(prometheus.BuildFQName(namespace, "snapshot", f.name), f.help, nil, nil)
	}
	return c
}

func (c *SnapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range c.descs {
		ch <- desc
	}
}

func (c *SnapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot, err := c.store.LatestSnapshot(context.Background())
	if err != nil {
		log.Error(err, "get latest metrics snapshot")
		return
	}
	if snapshot == nil {
		return
	}
	for _, f := range snapshotFields {
		ch <- prometheus.MustNewConstMetric(c.descs[f.name], prometheus.GaugeValue, float64(f.value(snapshot)))
	}
}
