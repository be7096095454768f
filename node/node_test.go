package node_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsoosk/PaxosKVStore/config"
	"github.com/gsoosk/PaxosKVStore/node"
	"github.com/gsoosk/PaxosKVStore/rpcapi"
	"github.com/gsoosk/PaxosKVStore/transport"
)

// startCluster brings up n replicas over real net/rpc listeners on
// loopback ephemeral ports. Each replica is started on its own with no
// replica entries, so each one's registry holds only its self-stub and
// it elects itself; the replica at failRateIdx gets failRate.
func startCluster(t *testing.T, n, failRateIdx int, failRate float64) []*node.Node {
	t.Helper()

	nodes := make([]*node.Node, n)

	for i := 0; i < n; i++ {
		rate := 0.0
		if i == failRateIdx {
			rate = failRate
		}
		raw := fmt.Sprintf("my_addr:127.0.0.1:0 my_paxos:127.0.0.1:0 fail_rate:%v", rate)
		cfg, err := config.Parse(raw)
		require.NoError(t, err)

		nd, err := node.Start(cfg, nil)
		require.NoError(t, err)
		nodes[i] = nd
	}

	t.Cleanup(func() {
		for _, nd := range nodes {
			nd.Close()
		}
	})

	return nodes
}

func TestSingleNodePutGetDeleteOverRealRPC(t *testing.T) {
	nodes := startCluster(t, 1, -1, 0)

	fe, err := transport.DialFrontend(nodes[0].FrontendAddr())
	require.NoError(t, err)
	defer fe.Close()

	ctx := context.Background()

	putResp, err := fe.Put(ctx, &rpcapi.PutRequest{Key: "apple", Value: "red"})
	require.NoError(t, err)
	assert.Nil(t, putResp.Status)

	getResp, err := fe.Get(ctx, &rpcapi.GetRequest{Key: "apple"})
	require.NoError(t, err)
	assert.Nil(t, getResp.Status)
	assert.Equal(t, "red", getResp.Value)

	delResp, err := fe.Delete(ctx, &rpcapi.DeleteRequest{Key: "apple"})
	require.NoError(t, err)
	assert.Nil(t, delResp.Status)

	getResp, err = fe.Get(ctx, &rpcapi.GetRequest{Key: "apple"})
	require.NoError(t, err)
	require.NotNil(t, getResp.Status)
	assert.Equal(t, rpcapi.NotFound, getResp.Status.Code)
}

func TestSingleNodeRejectsReservedCoordinatorKey(t *testing.T) {
	nodes := startCluster(t, 1, -1, 0)

	fe, err := transport.DialFrontend(nodes[0].FrontendAddr())
	require.NoError(t, err)
	defer fe.Close()

	resp, err := fe.Put(context.Background(), &rpcapi.PutRequest{Key: "coordinator", Value: "x"})
	require.NoError(t, err)
	require.NotNil(t, resp.Status)
	assert.Equal(t, rpcapi.Aborted, resp.Status.Code)
}

// startPeeredCluster wires n replicas so each one's Peer Registry
// knows every other replica's Paxos address up front (a fixed
// membership list), by first binding every listener, then
// reconfiguring through node.Start with the full address list.
func startPeeredCluster(t *testing.T, n int, failRates map[int]float64) []*node.Node {
	t.Helper()

	// Pass 1: claim a (frontend, paxos) ephemeral port pair per replica
	// so pass 2 can list every peer's paxos address up front, then free
	// them again before the real binding.
	feAddrs := make([]string, n)
	paxosAddrs := make([]string, n)
	for i := 0; i < n; i++ {
		cfg, err := config.Parse("my_addr:127.0.0.1:0 my_paxos:127.0.0.1:0")
		require.NoError(t, err)
		nd, err := node.Start(cfg, nil)
		require.NoError(t, err)
		feAddrs[i] = nd.FrontendAddr()
		paxosAddrs[i] = nd.PaxosAddr()
		nd.Close()
	}

	nodes := make([]*node.Node, n)
	for i := 0; i < n; i++ {
		raw := fmt.Sprintf("my_addr:%s my_paxos:%s", feAddrs[i], paxosAddrs[i])
		for j, addr := range paxosAddrs {
			if j == i {
				continue
			}
			raw += " replica:" + addr
		}
		if rate, ok := failRates[i]; ok {
			raw += fmt.Sprintf(" fail_rate:%v", rate)
		}
		cfg, err := config.Parse(raw)
		require.NoError(t, err)
		nd, err := node.Start(cfg, nil)
		require.NoError(t, err)
		nodes[i] = nd
	}

	t.Cleanup(func() {
		for _, nd := range nodes {
			nd.Close()
		}
	})
	return nodes
}

func TestThreeNodeClusterConvergesThroughFrontend(t *testing.T) {
	nodes := startPeeredCluster(t, 3, nil)

	fe, err := transport.DialFrontend(nodes[0].FrontendAddr())
	require.NoError(t, err)
	defer fe.Close()

	ctx := context.Background()
	putResp, err := fe.Put(ctx, &rpcapi.PutRequest{Key: "lemon", Value: "yellow"})
	require.NoError(t, err)
	assert.Nil(t, putResp.Status)

	for _, nd := range nodes {
		value, ok := nd.Service().Store().Get("lemon")
		assert.True(t, ok)
		assert.Equal(t, "yellow", value)
	}
}

func TestThreeNodeClusterSurvivesReplicaLoss(t *testing.T) {
	nodes := startPeeredCluster(t, 3, nil)
	nodes[2].Close()

	fe, err := transport.DialFrontend(nodes[0].FrontendAddr())
	require.NoError(t, err)
	defer fe.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	putResp, err := fe.Put(ctx, &rpcapi.PutRequest{Key: "lemon", Value: "yellow"})
	require.NoError(t, err)
	assert.Nil(t, putResp.Status)

	getResp, err := fe.Get(ctx, &rpcapi.GetRequest{Key: "lemon"})
	require.NoError(t, err)
	assert.Equal(t, "yellow", getResp.Value)
}
