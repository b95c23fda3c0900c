package enrich

import (
	"context"
	"net/netip"

	"github.com/haolipeng/traffic_visor/pkg/types"
	"github.com/sirupsen/logrus"
)

// 连接类型
const (
	LocalLocal   = "local-local"
	LocalPublic  = "local-public"
	PublicLocal  = "public-local"
	PublicPublic = "public-public"
)

// Location 地理位置，未知的字段保持为空
type Location struct {
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	Country     string   `json:"country,omitempty"`
	CountryCode string   `json:"country_code,omitempty"`
}

// Known 是否包含有效的经纬度
func (l Location) Known() bool {
	return l.Lat != nil && l.Lon != nil
}

// Locator 根据IP查询地理位置，由外部协作方实现
type Locator interface {
	Locate(ctx context.Context, ip string) (Location, error)
}

// NopLocator 不做任何查询，所有位置均为空
type NopLocator struct{}

func (NopLocator) Locate(ctx context.Context, ip string) (Location, error) {
	return Location{}, nil
}

// EnrichedRecord 发送给展示层的记录
type EnrichedRecord struct {
	Src            string   `json:"src"`
	Dst            string   `json:"dst"`
	SrcPort        uint16   `json:"src_port,omitempty"`
	DstPort        uint16   `json:"dst_port,omitempty"`
	Proto          string   `json:"proto"`
	SrcLat         *float64 `json:"src_lat"`
	SrcLon         *float64 `json:"src_lon"`
	SrcCountry     string   `json:"src_country"`
	SrcCountryCode string   `json:"src_country_code"`
	DstLat         *float64 `json:"dst_lat"`
	DstLon         *float64 `json:"dst_lon"`
	DstCountry     string   `json:"dst_country"`
	DstCountryCode string   `json:"dst_country_code"`
	Type           string   `json:"type"`
}

// Enricher 为记录补充位置和本地/公网分类
type Enricher struct {
	locator Locator
	server  Location
}

// NewEnricher 创建Enricher，server为本机的位置，本地地址使用该位置
func NewEnricher(locator Locator, server Location) *Enricher {
	if locator == nil {
		locator = NopLocator{}
	}
	return &Enricher{locator: locator, server: server}
}

// ServerLocation 返回本机位置
func (e *Enricher) ServerLocation() Location {
	return e.server
}

// Enrich 补充一条记录，位置查询失败时对应字段为空
func (e *Enricher) Enrich(ctx context.Context, rec types.ConnectionRecord) EnrichedRecord {
	srcLocal := IsLocalIP(rec.Src)
	dstLocal := IsLocalIP(rec.Dst)

	srcLoc := e.locate(ctx, rec.Src, srcLocal)
	dstLoc := e.locate(ctx, rec.Dst, dstLocal)

	return EnrichedRecord{
		Src:            rec.Src,
		Dst:            rec.Dst,
		SrcPort:        rec.SrcPort,
		DstPort:        rec.DstPort,
		Proto:          rec.Proto,
		SrcLat:         srcLoc.Lat,
		SrcLon:         srcLoc.Lon,
		SrcCountry:     srcLoc.Country,
		SrcCountryCode: srcLoc.CountryCode,
		DstLat:         dstLoc.Lat,
		DstLon:         dstLoc.Lon,
		DstCountry:     dstLoc.Country,
		DstCountryCode: dstLoc.CountryCode,
		Type:           ConnectionType(srcLocal, dstLocal),
	}
}

func (e *Enricher) locate(ctx context.Context, ip string, local bool) Location {
	if ip == "" {
		return Location{}
	}

	loc, err := e.locator.Locate(ctx, ip)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"ip":    ip,
			"error": err.Error(),
		}).Debug("locate ip failed")
		loc = Location{}
	}

	// 本地地址使用本机的经纬度
	if local && e.server.Known() {
		loc.Lat, loc.Lon = e.server.Lat, e.server.Lon
	}
	return loc
}

// IsLocalIP 判断地址是否为私有、回环、链路本地或未指定地址
// 无法解析的地址视为公网地址
func IsLocalIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified()
}

// ConnectionType 根据两端是否为本地地址对连接分类
func ConnectionType(srcLocal, dstLocal bool) string {
	switch {
	case srcLocal && dstLocal:
		return LocalLocal
	case srcLocal:
		return LocalPublic
	case dstLocal:
		return PublicLocal
	default:
		return PublicPublic
	}
}
