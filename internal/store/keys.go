package store

import "fmt"

// Key layout shared by flat keyspace backends (Redis). The layout is part of
// the persisted-state contract; changing it orphans existing records.
//
//	tenant:{id}                          -> Tenant
//	worker:{tenantId}:{id}               -> Worker
//	bundle:{tenantId}:{id}:v{n}          -> Bundle
//	bundle-fingerprint:{hex}             -> Bundle (TTL'd build cache)
//	hostname:{host}                      -> HostnameRoute
//	hostname-idx:{tenantId}:{id}:{host}  -> marker
//	template:{id}                        -> Template
//	platform-defaults                    -> ConfigBundle

func keyTenant(id string) string { return "tenant:" + id }

func keyWorker(tenantID, workerID string) string {
	return "worker:" + tenantID + ":" + workerID
}

func keyBundle(tenantID, workerID string, version int) string {
	return fmt.Sprintf("bundle:%s:%s:v%d", tenantID, workerID, version)
}

func keyBundleFingerprint(fp string) string { return "bundle-fingerprint:" + fp }

func keyHostname(host string) string { return "hostname:" + host }

func keyHostnameIdx(tenantID, workerID, host string) string {
	return "hostname-idx:" + tenantID + ":" + workerID + ":" + host
}

func keyHostnameIdxPrefix(tenantID, workerID string) string {
	return "hostname-idx:" + tenantID + ":" + workerID + ":"
}

func keyTemplate(id string) string { return "template:" + id }

const keyDefaults = "platform-defaults"
