package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/haolipeng/traffic_visor/pkg/api"
	"github.com/haolipeng/traffic_visor/pkg/config"
	"github.com/haolipeng/traffic_visor/pkg/sink"
	"github.com/haolipeng/traffic_visor/pkg/source"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	testCases := map[string]logrus.Level{
		"DEBUG":   logrus.DebugLevel,
		"info":    logrus.InfoLevel,
		"WARN":    logrus.WarnLevel,
		"ERROR":   logrus.ErrorLevel,
		"FATAL":   logrus.FatalLevel,
		"PANIC":   logrus.PanicLevel,
		"VERBOSE": logrus.WarnLevel,
		"":        logrus.WarnLevel,
	}
	for name, want := range testCases {
		assert.Equal(t, want, parseLevel(name), name)
	}
}

func TestPrintRules(t *testing.T) {
	var out bytes.Buffer
	printRules(&out, api.NewRuleService(nil, "").ListRules())

	text := out.String()
	for _, name := range []string{"HighTrafficRule", "DestinationSpikeRule", "PortScanRule", "UnusualProtocolRule", "DDoSTargetRule"} {
		assert.Contains(t, text, name)
	}
	assert.Contains(t, text, `{"threshold":50}`)
}

// writeScanCapture 写入一个端口扫描的pcap文件
func writeScanCapture(t *testing.T, path string, ports int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for port := 0; port < ports; port++ {
		buf := gopacket.NewSerializeBuffer()
		require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
			&layers.Ethernet{
				SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
				DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
				EthernetType: layers.EthernetTypeIPv4,
			},
			&layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP,
				SrcIP: net.IP{5, 5, 5, 5}, DstIP: net.IP{6, 6, 6, 6}},
			&layers.TCP{SrcPort: 40000, DstPort: layers.TCPPort(20 + port), SYN: true, Window: 1024},
		))
		data := buf.Bytes()
		ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()
	pcapPath := filepath.Join(dir, "scan.pcap")
	writeScanCapture(t, pcapPath, 11)

	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Anomaly.ConfigFile = filepath.Join(dir, "missing.json")

	src, err := source.NewPcapFileSource(pcapPath)
	require.NoError(t, err)

	out := sink.NewMemorySink()
	a := newApp(cfg)
	require.NoError(t, replay(context.Background(), a, src, out))

	var packets int
	var anomalies []string
	for _, batch := range out.GetResults() {
		packets += len(batch.Packets)
		anomalies = append(anomalies, batch.Anomalies...)
	}
	assert.Equal(t, 11, packets)
	assert.Equal(t, []string{"Port scan from 5.5.5.5 to 6.6.6.6"}, anomalies)
	assert.Equal(t, uint64(11), a.buf.Size())
}
