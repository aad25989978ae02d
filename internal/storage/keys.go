package storage

import "strings"

// Tenant-scoped key patterns shared by every process that touches the
// coordination store.
const semaphorePrefix = "job:semaphore:tenant:"

func SemaphoreKey(tenant string) string { return semaphorePrefix + tenant }

func JobKey(tenant, jobID string) string {
	return "job:state:tenant:" + tenant + ":job:" + jobID
}

func JobKeyPrefix(tenant string) string {
	return "job:state:tenant:" + tenant + ":job:"
}

func QueueKey(tenant string) string { return "queue:tenant:" + tenant }

func LockKey(name string) string { return "lock:" + name }

func ProgressChannel(tenant, jobID string) string {
	return "progress:tenant:" + tenant + ":job:" + jobID
}

// TenantFromSemaphoreKey extracts the tenant id from a semaphore key, used
// for tenant discovery during reconciliation sweeps.
func TenantFromSemaphoreKey(key string) (string, bool) {
	if !strings.HasPrefix(key, semaphorePrefix) {
		return "", false
	}
	tenant := key[len(semaphorePrefix):]
	return tenant, tenant != ""
}
