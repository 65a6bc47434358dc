// Package convlog keeps a file per completed streaming reply for offline
// inspection: the query, the reply, any reasoning text and the session's
// metrics. Files are named yyyyMMdd_HHmmss_SSS_<last six of open_id>.json.
package convlog
