package lock

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// EtcdLocker is the distributed backend, used when HYDRA_ETCD_ENDPOINTS is
// configured. It leases a session tied to the client connection and takes
// a concurrency.Mutex scoped to the repo id, so a lock holder that crashes
// releases automatically once its session's lease expires.
type EtcdLocker struct {
	client  *clientv3.Client
	keyPath string
	session *concurrency.Session
	mutex   *concurrency.Mutex
}

// NewEtcdLocker connects to the given endpoints and prepares a lock scoped
// to keyPrefix/repoID.
func NewEtcdLocker(endpoints []string, keyPrefix, repoID string) (*EtcdLocker, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("lock: at least one etcd endpoint is required")
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("lock: connecting to etcd: %w", err)
	}
	return &EtcdLocker{
		client:  cli,
		keyPath: keyPrefix + "/" + repoID,
	}, nil
}

func (l *EtcdLocker) Lock(ctx context.Context) error {
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(30))
	if err != nil {
		return fmt.Errorf("lock: opening etcd session: %w", err)
	}
	mutex := concurrency.NewMutex(session, l.keyPath)
	if err := mutex.Lock(ctx); err != nil {
		session.Close()
		return fmt.Errorf("lock: acquiring etcd lock %s: %w", l.keyPath, err)
	}
	l.session = session
	l.mutex = mutex
	return nil
}

func (l *EtcdLocker) Unlock() error {
	if l.mutex == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := l.mutex.Unlock(ctx)
	l.session.Close()
	l.mutex = nil
	l.session = nil
	return err
}

// Close releases the underlying etcd client connection.
func (l *EtcdLocker) Close() error {
	return l.client.Close()
}
