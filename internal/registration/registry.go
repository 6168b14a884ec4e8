// Package registration publishes the instance address map on etcd so other
// local tools can discover where each module and backend instance listens.
package registration

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/devserver-emu/devserver/utils"
	"github.com/lithammer/shortuuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/net/context"
)

const BASEDIR = "devserver"

// TTL is the lease duration, in seconds, of every published key.
const TTL = 20

var UnavailableClientErr = errors.New("etcd client unavailable")
var RegistrationErr = errors.New("etcd error: could not complete the registration")
var KeepAliveErr = errors.New("etcd error: could not renew the registration lease")

// Registry is one server's presence on etcd: a server key plus one key per
// published instance address, all bound to a single kept-alive lease.
type Registry struct {
	Area string

	mu      sync.Mutex
	id      string
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
}

// getEtcdKey builds the logical path of an id under the registry's area.
func (r *Registry) getEtcdKey(id string) string {
	return fmt.Sprintf("%s/%s/%s", BASEDIR, r.Area, id)
}

// RegisterToEtcd announces this server under its area and starts the lease
// keepalive. Addresses published later share the same lease, so a crashed
// server disappears wholesale once the lease expires.
func (r *Registry) RegisterToEtcd(url string) error {
	etcdClient, err := utils.GetEtcdClient()
	if err != nil {
		return UnavailableClientErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	id := shortuuid.New() + strconv.FormatInt(time.Now().UnixNano(), 10)

	resp, err := etcdClient.Grant(ctx, int64(TTL))
	if err != nil {
		return err
	}

	log.Printf("registration key: %s", r.getEtcdKey(id))
	_, err = etcdClient.Put(ctx, r.getEtcdKey(id), url, clientv3.WithLease(resp.ID))
	if err != nil {
		return RegistrationErr
	}

	keepAliveCtx, stopKeepAlive := context.WithCancel(etcdClient.Ctx())
	keepAliveCh, err := etcdClient.KeepAlive(keepAliveCtx, resp.ID)
	if err != nil || keepAliveCh == nil {
		stopKeepAlive()
		return KeepAliveErr
	}
	go func() {
		for range keepAliveCh {
			// drain renewals until the channel closes
		}
	}()

	r.mu.Lock()
	r.id = id
	r.leaseID = resp.ID
	r.cancel = stopKeepAlive
	r.mu.Unlock()
	return nil
}

// PublishAddresses replaces the published instance address map. Suitable as a
// Backends.OnMappingChange listener; a no-op before registration.
func (r *Registry) PublishAddresses(mapping map[string]string) {
	r.mu.Lock()
	id := r.id
	leaseID := r.leaseID
	r.mu.Unlock()
	if id == "" {
		return
	}

	etcdClient, err := utils.GetEtcdClient()
	if err != nil {
		log.Printf("address publication skipped: %v", UnavailableClientErr)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	prefix := r.getEtcdKey(id) + "/instances/"
	if _, err := etcdClient.Delete(ctx, prefix, clientv3.WithPrefix()); err != nil {
		log.Printf("stale address cleanup failed: %v", err)
	}
	for key, addr := range mapping {
		if _, err := etcdClient.Put(ctx, prefix+key, addr, clientv3.WithLease(leaseID)); err != nil {
			log.Printf("address publication failed for %s: %v", key, err)
		}
	}
}

// ServerInformation describes another registered server.
type ServerInformation struct {
	ID  string
	URL string
}

// GetAll lists the servers registered under this registry's area.
func (r *Registry) GetAll() ([]ServerInformation, error) {
	etcdClient, err := utils.GetEtcdClient()
	if err != nil {
		return nil, UnavailableClientErr
	}

	resp, err := etcdClient.Get(context.TODO(), r.getEtcdKey(""), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	servers := make([]ServerInformation, len(resp.Kvs))
	for i, kv := range resp.Kvs {
		servers[i] = ServerInformation{ID: string(kv.Key), URL: string(kv.Value)}
	}
	return servers, nil
}

// Deregister removes every key published by this server and stops the lease
// keepalive.
func (r *Registry) Deregister() error {
	r.mu.Lock()
	id := r.id
	cancel := r.cancel
	r.id = ""
	r.cancel = nil
	r.mu.Unlock()
	if id == "" {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	etcdClient, err := utils.GetEtcdClient()
	if err != nil {
		return UnavailableClientErr
	}

	ctx, ctxCancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer ctxCancel()
	if _, err := etcdClient.Delete(ctx, r.getEtcdKey(id), clientv3.WithPrefix()); err != nil {
		return err
	}

	log.Printf("deregistered: %s", id)
	return nil
}
