package cmd

import "strings"

var confTempl = `
collector:
  path: pgmetrics
  timeout: 2m
log:
  level: info
  format: text
  add_source: false
output:
  save_json: pgmetrics_output.json
  fail_on_error: true
  details: false
metrics:
  textfile: /var/lib/node_exporter/textfile/pgmreport.prom
sink:
  url: https://reports.example.com/api/v1/pgmetrics
  token: ${PGMREPORT_SINK_TOKEN}
  timeout: 10s
schedule: "*/5 * * * *"
`

func GetConfigTemplate() string {
	return strings.TrimSpace(confTempl)
}
