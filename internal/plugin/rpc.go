package plugin

import (
	"fmt"
	"net/rpc"

	hcplugin "github.com/hashicorp/go-plugin"
)

// Handshake identifies this engine's plugin protocol to hosted processes.
func Handshake(key string) hcplugin.HandshakeConfig {
	if key == "" {
		key = "gateway-hooks-v1"
	}
	return hcplugin.HandshakeConfig{
		ProtocolVersion:  1,
		MagicCookieKey:   "GATEWAY_PLUGIN",
		MagicCookieValue: key,
	}
}

// PluginMap is the go-plugin plugin set this engine dispenses as "gateway".
func PluginMap() map[string]hcplugin.Plugin {
	return map[string]hcplugin.Plugin{
		"gateway": &rpcPlugin{},
	}
}

// rpcPlugin implements hcplugin.Plugin over net/rpc.
type rpcPlugin struct {
	Impl GatewayPlugin
}

func (p *rpcPlugin) Server(*hcplugin.MuxBroker) (interface{}, error) {
	return &rpcServer{impl: p.Impl}, nil
}

func (p *rpcPlugin) Client(b *hcplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &rpcClient{client: c}, nil
}

// --- RPC argument/reply shapes ---

type invokeArgs struct {
	Hook string
	Ctx  Context
}

type metadataReply struct {
	Metadata Metadata
}

type hooksReply struct {
	Hooks []string
}

type errorReply struct {
	Error string
}

// --- server side (runs inside the plugin process) ---

type rpcServer struct {
	impl GatewayPlugin
}

func (s *rpcServer) Metadata(args struct{}, reply *metadataReply) error {
	reply.Metadata = s.impl.Metadata()
	return nil
}

func (s *rpcServer) Hooks(args struct{}, reply *hooksReply) error {
	reply.Hooks = s.impl.Hooks()
	return nil
}

func (s *rpcServer) Invoke(args *invokeArgs, reply *Context) error {
	out, err := s.impl.Invoke(args.Hook, args.Ctx)
	if err != nil {
		return err
	}
	*reply = out
	return nil
}

func (s *rpcServer) Cleanup(args struct{}, reply *errorReply) error {
	if err := s.impl.Cleanup(); err != nil {
		reply.Error = err.Error()
	}
	return nil
}

// --- client side (runs inside the host process) ---

type rpcClient struct {
	client *rpc.Client
}

func (c *rpcClient) Metadata() Metadata {
	var reply metadataReply
	if err := c.client.Call("Plugin.Metadata", struct{}{}, &reply); err != nil {
		return Metadata{}
	}
	return reply.Metadata
}

func (c *rpcClient) Hooks() []string {
	var reply hooksReply
	if err := c.client.Call("Plugin.Hooks", struct{}{}, &reply); err != nil {
		return nil
	}
	return reply.Hooks
}

func (c *rpcClient) Invoke(hook string, ctx Context) (Context, error) {
	var reply Context
	err := c.client.Call("Plugin.Invoke", &invokeArgs{Hook: hook, Ctx: ctx}, &reply)
	if err != nil {
		return Context{}, err
	}
	return reply, nil
}

func (c *rpcClient) Cleanup() error {
	var reply errorReply
	if err := c.client.Call("Plugin.Cleanup", struct{}{}, &reply); err != nil {
		return err
	}
	if reply.Error != "" {
		return fmt.Errorf("%s", reply.Error)
	}
	return nil
}
