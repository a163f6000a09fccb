package trigger

import (
	"fmt"
	"log"
	"net"
	"os"

	consul "github.com/hashicorp/consul/api"
)

const consulServiceID = "deployctl-trigger"

// RegisterConsul advertises the trigger endpoint in Consul when
// CONSUL_HTTP_ADDR is set. Registration failure is not fatal to the server;
// callers log and continue.
func RegisterConsul(triggerPort, httpPort int) error {
	consulAddr := os.Getenv("CONSUL_HTTP_ADDR")
	if consulAddr == "" {
		return nil
	}

	config := consul.DefaultConfig()
	config.Address = consulAddr
	client, err := consul.NewClient(config)
	if err != nil {
		return err
	}

	nodeIP := getLocalIP()

	registration := &consul.AgentServiceRegistration{
		ID:      consulServiceID,
		Name:    consulServiceID,
		Port:    triggerPort,
		Address: nodeIP,
		Check: &consul.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/api/v1/health", nodeIP, httpPort),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "30s",
		},
		Tags: []string{"deploy", "trigger"},
	}

	return client.Agent().ServiceRegister(registration)
}

func DeregisterConsul() {
	consulAddr := os.Getenv("CONSUL_HTTP_ADDR")
	if consulAddr == "" {
		return
	}

	config := consul.DefaultConfig()
	config.Address = consulAddr
	client, err := consul.NewClient(config)
	if err != nil {
		log.Printf("Error creating consul client for deregistration: %v", err)
		return
	}

	if err := client.Agent().ServiceDeregister(consulServiceID); err != nil {
		log.Printf("Error deregistering trigger service: %v", err)
	}
}

// DiscoverServer resolves a trigger endpoint from Consul, used when a server
// profile carries no URL.
func DiscoverServer(consulAddr string) (string, error) {
	config := consul.DefaultConfig()
	config.Address = consulAddr

	client, err := consul.NewClient(config)
	if err != nil {
		return "", fmt.Errorf("create consul client: %w", err)
	}

	services, _, err := client.Health().Service(consulServiceID, "", true, nil)
	if err != nil {
		return "", fmt.Errorf("query consul: %w", err)
	}

	if len(services) == 0 {
		return "", fmt.Errorf("no healthy trigger services found")
	}

	service := services[0]
	addr := service.Service.Address
	if addr == "" {
		addr = service.Node.Address
	}

	return fmt.Sprintf("%s:%d", addr, service.Service.Port), nil
}

func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}

	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}
